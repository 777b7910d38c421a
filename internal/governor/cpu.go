package governor

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// sampleWindow is the interval CPUMonitor averages percent-busy over,
// per spec §4.6 ("samples per-core CPU percent over a 1s window").
const sampleWindow = time.Second

// CPUMonitor samples per-core CPU percent and reports whether the
// ingester should throttle between batches.
type CPUMonitor struct {
	maxPercentPerCore float64

	mu       sync.Mutex
	lastPctByCore []float64
}

// NewCPUMonitor constructs a monitor with the configured threshold
// (default 50, per spec §4.6).
func NewCPUMonitor(maxPercentPerCore float64) *CPUMonitor {
	return &CPUMonitor{maxPercentPerCore: maxPercentPerCore}
}

// Sample blocks for sampleWindow measuring per-core CPU percent. Call
// this periodically from the watcher loop, not from the hot path.
func (m *CPUMonitor) Sample() error {
	pcts, err := cpu.Percent(sampleWindow, true)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.lastPctByCore = pcts
	m.mu.Unlock()
	return nil
}

// ShouldThrottle reports whether any core's last sample exceeded the
// threshold. The ingester inserts a 200ms cooperative sleep between
// batches while this is true.
func (m *CPUMonitor) ShouldThrottle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pct := range m.lastPctByCore {
		if pct > m.maxPercentPerCore {
			return true
		}
	}
	return false
}

// ThrottleSleep is the cooperative pause the ingester inserts between
// batches while ShouldThrottle is true.
const ThrottleSleep = 200 * time.Millisecond
