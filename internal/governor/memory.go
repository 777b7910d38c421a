// Package governor implements the memory and CPU back-pressure signals
// of spec §4.6. The ingester (C8) consults the CPU throttle between
// batches; the memory signals are sampled but not acted on.
package governor

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// MemoryMonitor observes this process's resident set size against two
// thresholds. It is read-only: callers decide what "flush" and "block"
// mean for their own pipeline.
type MemoryMonitor struct {
	proc       *process.Process
	warningMB  uint64
	limitMB    uint64
	mu         sync.Mutex
	lastRSSMB  uint64
}

// NewMemoryMonitor constructs a monitor for the current process.
// warningMB and limitMB are the thresholds from configuration
// (defaults applied by the caller per spec §4.6).
func NewMemoryMonitor(warningMB, limitMB uint64) (*MemoryMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &MemoryMonitor{proc: proc, warningMB: warningMB, limitMB: limitMB}, nil
}

// Sample refreshes the monitor's view of RSS and returns it in MB.
func (m *MemoryMonitor) Sample() (uint64, error) {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	rssMB := info.RSS / (1024 * 1024)

	m.mu.Lock()
	m.lastRSSMB = rssMB
	m.mu.Unlock()

	return rssMB, nil
}

// OverWarning reports whether the last sample exceeded warningMB. The
// watcher refreshes the sample every cycle, but neither the watcher nor
// the ingester acts on this result: no batch is flushed because of it.
func (m *MemoryMonitor) OverWarning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningMB > 0 && m.lastRSSMB > m.warningMB
}

// OverLimit reports whether the last sample exceeded limitMB. Neither
// the watcher nor the ingester consults it, so batch acceptance is not
// blocked when RSS is over the limit.
func (m *MemoryMonitor) OverLimit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitMB > 0 && m.lastRSSMB > m.limitMB
}

// LastSampleMB returns the most recently sampled RSS in MB.
func (m *MemoryMonitor) LastSampleMB() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRSSMB
}
