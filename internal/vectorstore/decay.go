package vectorstore

import (
	"math"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// applyDecayClientSide re-scores candidates using the same formula the
// native path asks the store to apply:
//
//	final_score = similarity + Weight * exp_decay(age, now, Scale, midpoint=0.5)
//
// where age is read from Payload[decay.AgeField] (milliseconds since
// epoch) and "now" is the largest age value observed among candidates
// (the most recently ingested point in this result set), matching the
// server-side formula's "$now" semantics closely enough for re-ranking
// purposes.
func applyDecayClientSide(candidates []ScoredPoint, decay Decay) []ScoredPoint {
	if len(candidates) == 0 {
		return candidates
	}

	now := nowMillis(candidates, decay.AgeField)

	out := make([]ScoredPoint, len(candidates))
	for i, c := range candidates {
		age, ok := numericPayload(c.Payload, decay.AgeField)
		if !ok {
			out[i] = c
			continue
		}
		out[i] = c
		out[i].Score = c.Score + decay.Weight*expDecay(age, now, decay.Scale)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// expDecay matches Qdrant's exp_decay formula function: midpoint fixed at
// 0.5, i.e. the decay factor equals 0.5 when |target-x| == scale.
func expDecay(x, target, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	lambda := math.Ln2 / scale
	return math.Exp(-lambda * math.Abs(target-x))
}

func nowMillis(candidates []ScoredPoint, ageField string) float64 {
	var max float64
	for _, c := range candidates {
		if v, ok := numericPayload(c.Payload, ageField); ok && v > max {
			max = v
		}
	}
	return max
}

func numericPayload(payload map[string]any, key string) (float64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func filterByMinScore(points []ScoredPoint, minScore float64) []ScoredPoint {
	if minScore <= 0 {
		return points
	}
	out := points[:0]
	for _, p := range points {
		if p.Score >= minScore {
			out = append(out, p)
		}
	}
	return out
}

// toQdrantFilter converts the system's equality-only Filter into a
// Qdrant payload filter requiring every field to match.
func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(f.Must))
	for field, value := range f.Must {
		conditions = append(conditions, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: conditions}
}

// toQdrantPayload converts a generic payload map into Qdrant's wire value type.
func toQdrantPayload(payload map[string]any) map[string]*qdrant.Value {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		out[k] = toQdrantValue(v)
	}
	return out
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return qdrant.NewValueString(val)
	case int:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case float64:
		return qdrant.NewValueDouble(val)
	case bool:
		return qdrant.NewValueBool(val)
	case []string:
		items := make([]*qdrant.Value, len(val))
		for i, s := range val {
			items[i] = qdrant.NewValueString(s)
		}
		return qdrant.NewValueList(items)
	default:
		return qdrant.NewValueString("")
	}
}

// fromQdrantPayload converts Qdrant's wire value type back into a
// generic payload map.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, len(kind.ListValue.Values))
		for i, item := range kind.ListValue.Values {
			items[i] = fromQdrantValue(item)
		}
		return items
	default:
		return nil
	}
}

func idToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}

func vectorsToFloat32(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}
