package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_GetBatchOrdersHotFirst(t *testing.T) {
	q := NewQueue(10, 3)
	now := time.Unix(1_700_000_000, 0)
	th := DefaultThresholds()

	added := q.AddCategorized([]Candidate{
		{Path: "cold.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)},
		{Path: "hot.jsonl", Level: HOT, Mtime: now},
		{Path: "warm.jsonl", Level: WARM, Mtime: now.Add(-2 * time.Hour)},
	}, th, now)
	require.Equal(t, 3, added)

	batch := q.GetBatch(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "hot.jsonl", batch[0].Path)
}

func TestQueue_DeduplicatesByPath(t *testing.T) {
	q := NewQueue(10, 3)
	now := time.Now()
	th := DefaultThresholds()

	q.AddCategorized([]Candidate{{Path: "a.jsonl", Level: HOT, Mtime: now}}, th, now)
	added := q.AddCategorized([]Candidate{{Path: "a.jsonl", Level: HOT, Mtime: now}}, th, now)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, q.Size())
}

func TestQueue_StarvationPromotesWarmToUrgent(t *testing.T) {
	q := NewQueue(10, 3)
	th := DefaultThresholds()
	start := time.Unix(1_700_000_000, 0)

	q.AddCategorized([]Candidate{{Path: "warm.jsonl", Level: WARM, Mtime: start.Add(-2 * time.Hour)}}, th, start)

	later := start.Add(th.MaxWarmWait + time.Minute)
	q.AddCategorized([]Candidate{{Path: "cold.jsonl", Level: COLD, Mtime: start.Add(-48 * time.Hour)}}, th, later)

	stats := q.Stats()
	assert.Equal(t, 1, stats.UrgentWarm)
	assert.Equal(t, 0, stats.Warm)
}

func TestQueue_ColdRejectedFirstWhenFull(t *testing.T) {
	q := NewQueue(1, 3)
	now := time.Now()
	th := DefaultThresholds()

	q.AddCategorized([]Candidate{{Path: "cold1.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)}}, th, now)
	added := q.AddCategorized([]Candidate{{Path: "cold2.jsonl", Level: COLD, Mtime: now.Add(-72 * time.Hour)}}, th, now)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, q.Size())
}

func TestQueue_HotEvictsColdWhenFull(t *testing.T) {
	q := NewQueue(1, 3)
	now := time.Now()
	th := DefaultThresholds()

	q.AddCategorized([]Candidate{{Path: "cold.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)}}, th, now)
	added := q.AddCategorized([]Candidate{{Path: "hot.jsonl", Level: HOT, Mtime: now}}, th, now)
	assert.Equal(t, 1, added)

	batch := q.GetBatch(1)
	require.Len(t, batch, 1)
	assert.Equal(t, "hot.jsonl", batch[0].Path)
}

func TestQueue_MaxColdPerCycleLimitsAdmission(t *testing.T) {
	q := NewQueue(100, 2)
	now := time.Now()
	th := DefaultThresholds()

	added := q.AddCategorized([]Candidate{
		{Path: "c1.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)},
		{Path: "c2.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)},
		{Path: "c3.jsonl", Level: COLD, Mtime: now.Add(-48 * time.Hour)},
	}, th, now)
	assert.Equal(t, 2, added)
}

func TestQueue_HasHotOrUrgent(t *testing.T) {
	q := NewQueue(10, 3)
	now := time.Now()
	th := DefaultThresholds()

	assert.False(t, q.HasHotOrUrgent())
	q.AddCategorized([]Candidate{{Path: "warm.jsonl", Level: WARM, Mtime: now}}, th, now)
	assert.False(t, q.HasHotOrUrgent())
	q.AddCategorized([]Candidate{{Path: "hot.jsonl", Level: HOT, Mtime: now}}, th, now)
	assert.True(t, q.HasHotOrUrgent())
}
