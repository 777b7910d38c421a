// Package freshness classifies conversation files by how recently they
// were modified and schedules them through a bounded, de-duplicating
// priority queue, per spec §4.7.
package freshness

import "time"

// Level is a file's freshness classification.
type Level int

const (
	HOT Level = iota
	WARM
	URGENT_WARM
	COLD
)

func (l Level) String() string {
	switch l {
	case HOT:
		return "HOT"
	case WARM:
		return "WARM"
	case URGENT_WARM:
		return "URGENT_WARM"
	case COLD:
		return "COLD"
	default:
		return "UNKNOWN"
	}
}

// Thresholds configures classification boundaries (spec §4.7 defaults:
// H=5min, W=24h, starvation promotion after 30min).
type Thresholds struct {
	Hot         time.Duration // default 5 minutes
	Warm        time.Duration // default 24 hours
	MaxWarmWait time.Duration // default 30 minutes
}

// DefaultThresholds returns the spec's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Hot:         5 * time.Minute,
		Warm:        24 * time.Hour,
		MaxWarmWait: 30 * time.Minute,
	}
}

// Classify returns the base level of a file given its modification
// time, ignoring starvation promotion (handled by the queue, which
// tracks first_seen per path).
func Classify(mtime, now time.Time, t Thresholds) Level {
	age := now.Sub(mtime)
	switch {
	case age <= t.Hot:
		return HOT
	case age <= t.Warm:
		return WARM
	default:
		return COLD
	}
}

// Priority computes the priority number for a classified file (lower
// is more urgent), per the fixed formula in spec §4.7. k is the
// modification time bucketed to whole seconds since epoch, used to
// order files within the same level.
func Priority(level Level, mtime time.Time) int {
	k := int(mtime.Unix())
	switch level {
	case URGENT_WARM:
		return 10000 - k
	case HOT:
		return 100 - k
	case WARM:
		return 20000 + k
	default: // COLD
		return 40000 + k
	}
}
