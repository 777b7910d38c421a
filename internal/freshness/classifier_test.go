package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	th := DefaultThresholds()

	tests := []struct {
		name  string
		age   time.Duration
		want  Level
	}{
		{"just modified", time.Second, HOT},
		{"at hot boundary", th.Hot, HOT},
		{"just past hot", th.Hot + time.Second, WARM},
		{"at warm boundary", th.Warm, WARM},
		{"just past warm", th.Warm + time.Second, COLD},
		{"very old", 400 * 24 * time.Hour, COLD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(now.Add(-tt.age), now, th)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_HotBeatsWarmBeatsCold(t *testing.T) {
	mtime := time.Unix(1_700_000_000, 0)
	hot := Priority(HOT, mtime)
	warm := Priority(WARM, mtime)
	cold := Priority(COLD, mtime)
	urgent := Priority(URGENT_WARM, mtime)

	// Lower priority number is more urgent. With mtime expressed as
	// whole seconds since epoch (large k), the fixed formula orders
	// HOT ahead of URGENT_WARM ahead of WARM ahead of COLD.
	assert.Less(t, hot, urgent)
	assert.Less(t, urgent, warm)
	assert.Less(t, warm, cold)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "HOT", HOT.String())
	assert.Equal(t, "WARM", WARM.String())
	assert.Equal(t, "URGENT_WARM", URGENT_WARM.String())
	assert.Equal(t, "COLD", COLD.String())
}
