package vectorstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpDecay_ZeroAtMidpointIsHalf(t *testing.T) {
	scale := 90.0
	got := expDecay(0, scale, scale)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestExpDecay_ZeroAgeIsOne(t *testing.T) {
	got := expDecay(100, 100, 50)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestExpDecay_MonotonicallyDecreasingWithAge(t *testing.T) {
	target := 1000.0
	scale := 90.0
	prev := math.Inf(1)
	for age := 0.0; age <= 900; age += 100 {
		got := expDecay(target-age, target, scale)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestExpDecay_NonPositiveScaleIsZero(t *testing.T) {
	assert.Equal(t, 0.0, expDecay(1, 2, 0))
	assert.Equal(t, 0.0, expDecay(1, 2, -5))
}

// Mirrors S4/S9: equal similarity, A more recent than B, decay on ⇒
// A's final score is at least B's, with the gap the spec's worked
// example describes.
func TestApplyDecayClientSide_RecentPointRanksAbove(t *testing.T) {
	now := float64(1_700_000_000_000)
	dayMs := float64(24 * 60 * 60 * 1000)

	points := []ScoredPoint{
		{Point: Point{ID: "a", Payload: map[string]any{"timestamp_ms": now}}, Score: 0.8},
		{Point: Point{ID: "b", Payload: map[string]any{"timestamp_ms": now - 400*dayMs}}, Score: 0.8},
	}

	decay := Decay{AgeField: "timestamp_ms", Weight: 0.3, Scale: 90 * dayMs}
	ranked := applyDecayClientSide(points, decay)

	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, "b", ranked[1].ID)
	assert.Greater(t, ranked[0].Score-ranked[1].Score, 0.25)
}

func TestApplyDecayClientSide_MissingAgeFieldLeavesScoreUnchanged(t *testing.T) {
	points := []ScoredPoint{{Point: Point{ID: "a", Payload: map[string]any{}}, Score: 0.9}}
	decay := Decay{AgeField: "timestamp_ms", Weight: 0.3, Scale: 1000}
	ranked := applyDecayClientSide(points, decay)
	assert.Equal(t, 0.9, ranked[0].Score)
}

func TestFilterByMinScore(t *testing.T) {
	points := []ScoredPoint{{Score: 0.9}, {Score: 0.5}, {Score: 0.71}}
	filtered := filterByMinScore(points, 0.7)
	assert.Len(t, filtered, 2)
}

func TestFilterByMinScore_ZeroThresholdPassesAll(t *testing.T) {
	points := []ScoredPoint{{Score: 0.1}, {Score: 0.0}}
	assert.Len(t, filterByMinScore(points, 0), 2)
}

func TestNumericPayload(t *testing.T) {
	payload := map[string]any{"a": float64(1), "b": int64(2), "c": int(3), "d": "nope"}

	v, ok := numericPayload(payload, "a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = numericPayload(payload, "b")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = numericPayload(payload, "d")
	assert.False(t, ok)

	_, ok = numericPayload(payload, "missing")
	assert.False(t, ok)
}

func TestToQdrantValueAndBack_RoundTrips(t *testing.T) {
	cases := map[string]any{
		"s": "hello",
		"i": int64(42),
		"f": 3.14,
		"b": true,
	}
	for k, v := range cases {
		got := fromQdrantValue(toQdrantValue(v))
		assert.Equal(t, v, got, k)
	}
}

func TestToQdrantValue_StringList(t *testing.T) {
	got := fromQdrantValue(toQdrantValue([]string{"x", "y"}))
	assert.Equal(t, []any{"x", "y"}, got)
}

func TestIDToString(t *testing.T) {
	assert.Equal(t, "", idToString(nil))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("conv_abc12345_local"))
	assert.Error(t, ValidateCollectionName(""))
	assert.Error(t, ValidateCollectionName("Has-Upper-And-Dash"))
}
