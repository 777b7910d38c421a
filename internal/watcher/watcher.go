// Package watcher implements the poll-driven scan-classify-ingest loop
// (C9): walk the log root, classify each file's freshness, feed a
// bounded priority queue, and drain it through the ingester with
// bounded concurrency, per spec §4.9.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/basalt-run/reflectd/internal/freshness"
	"github.com/basalt-run/reflectd/internal/governor"
	"github.com/basalt-run/reflectd/internal/ingest"
	"github.com/basalt-run/reflectd/internal/logging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures the watcher loop's timing and admission limits.
type Config struct {
	LogRoot             string
	ImportFrequency     time.Duration // default 60s: poll cadence with nothing HOT/URGENT_WARM queued
	HotCheckInterval    time.Duration // default 2s: poll cadence while HOT/URGENT_WARM items remain
	IngesterParallelism int           // default 1 (local) or 4 (cloud)
	BatchSize           int           // files pulled from the queue per drain pass; default 5
	ShutdownGrace       time.Duration // default 30s
	QueueCapacity       int           // default 10000
	MaxColdPerCycle     int           // default 3
	Thresholds          freshness.Thresholds
	UseFSNotify         bool
}

// applyDefaults fills zero-value fields with spec §6 defaults.
func (c *Config) applyDefaults() {
	if c.ImportFrequency <= 0 {
		c.ImportFrequency = 60 * time.Second
	}
	if c.HotCheckInterval <= 0 {
		c.HotCheckInterval = 2 * time.Second
	}
	if c.IngesterParallelism <= 0 {
		c.IngesterParallelism = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.MaxColdPerCycle <= 0 {
		c.MaxColdPerCycle = 3
	}
	zero := freshness.Thresholds{}
	if c.Thresholds == zero {
		c.Thresholds = freshness.DefaultThresholds()
	}
}

// Watcher drives the scan-classify-ingest loop. It mirrors the
// start/stop/run/scan shape this codebase uses for any background
// ticker loop, generalized to drain a priority queue through a bounded
// worker pool instead of running a single health check.
type Watcher struct {
	config   Config
	ingester *ingest.Ingester
	memory   *governor.MemoryMonitor
	cpu      *governor.CPUMonitor
	logger   *logging.Logger
	queue    *freshness.Queue

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	seenMu sync.Mutex
	seen   map[string]fileState
}

type fileState struct {
	mtime time.Time
	size  int64
}

// New constructs a Watcher. logger must not be nil.
func New(cfg Config, ingester *ingest.Ingester, memory *governor.MemoryMonitor, cpu *governor.CPUMonitor, logger *logging.Logger) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		config:   cfg,
		ingester: ingester,
		memory:   memory,
		cpu:      cpu,
		logger:   logger,
		queue:    freshness.NewQueue(cfg.QueueCapacity, cfg.MaxColdPerCycle),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		seen:     make(map[string]fileState),
	}
}

// Start begins the watch loop in a goroutine and returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info(ctx, "starting watcher",
		zap.String("log_root", w.config.LogRoot),
		zap.Duration("import_frequency", w.config.ImportFrequency),
		zap.Duration("hot_check_interval", w.config.HotCheckInterval))

	go w.run(ctx)
}

// Stop requests a graceful shutdown: admission stops immediately, and
// Stop blocks until the in-flight drain completes or ShutdownGrace
// elapses, whichever comes first.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.logger.Info(context.Background(), "stopping watcher", zap.Duration("grace", w.config.ShutdownGrace))
	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-time.After(w.config.ShutdownGrace):
		w.logger.Warn(context.Background(), "watcher shutdown grace period elapsed before drain completed")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// QueueStats exposes the current queue occupancy, for the status
// subcommand.
func (w *Watcher) QueueStats() freshness.Metrics {
	return w.queue.Stats()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var fsEvents chan fsnotify.Event
	if w.config.UseFSNotify {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(w.config.LogRoot); err != nil {
				w.logger.Warn(ctx, "fsnotify add failed, continuing with poll-only loop", zap.Error(err))
			} else {
				fsEvents = make(chan fsnotify.Event, 64)
				go forwardEvents(watcher, fsEvents)
			}
		} else {
			w.logger.Warn(ctx, "fsnotify unavailable, continuing with poll-only loop", zap.Error(err))
		}
	}

	w.cycle(ctx)

	interval := w.config.ImportFrequency
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "watcher stopped: context canceled")
			return
		case <-w.stopCh:
			w.logger.Info(ctx, "watcher stopped: stop requested")
			return
		case <-fsEvents:
			// A filesystem event wakes the loop early; the regular
			// cycle below still does the authoritative stat+classify
			// pass, so duplicate or missed events are harmless.
			w.cycle(ctx)
		case <-timer.C:
			w.cycle(ctx)
		}

		if w.queue.HasHotOrUrgent() {
			interval = w.config.HotCheckInterval
		} else {
			interval = w.config.ImportFrequency
		}
		timer.Reset(interval)
	}
}

func forwardEvents(watcher *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case out <- ev:
			default:
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// cycle runs one scan-classify-enqueue-drain pass.
func (w *Watcher) cycle(ctx context.Context) {
	if w.cpu != nil {
		if err := w.cpu.Sample(); err != nil {
			w.logger.Warn(ctx, "cpu sample failed", zap.Error(err))
		}
	}
	if w.memory != nil {
		if _, err := w.memory.Sample(); err != nil {
			w.logger.Warn(ctx, "memory sample failed", zap.Error(err))
		}
	}

	candidates := w.scan()
	if len(candidates) > 0 {
		added := w.queue.AddCategorized(candidates, w.config.Thresholds, time.Now())
		w.logger.Debug(ctx, "watcher scan complete",
			zap.Int("candidates", len(candidates)),
			zap.Int("admitted", added))
	}

	w.drain(ctx)
}

// scan walks the log root for *.jsonl files, stats each, and skips
// files whose mtime and size haven't changed since the last scan.
func (w *Watcher) scan() []freshness.Candidate {
	var out []freshness.Candidate
	now := time.Now()

	_ = filepath.WalkDir(w.config.LogRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, never abort the walk
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		w.seenMu.Lock()
		prev, seen := w.seen[path]
		changed := !seen || prev.mtime != info.ModTime() || prev.size != info.Size()
		w.seen[path] = fileState{mtime: info.ModTime(), size: info.Size()}
		w.seenMu.Unlock()

		if !changed {
			return nil
		}

		level := freshness.Classify(info.ModTime(), now, w.config.Thresholds)
		out = append(out, freshness.Candidate{Path: path, Level: level, Mtime: info.ModTime()})
		return nil
	})

	return out
}

// drain pulls batches from the queue and ingests them with bounded
// concurrency until the queue is empty or the context is canceled.
func (w *Watcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		batch := w.queue.GetBatch(w.config.BatchSize)
		if len(batch) == 0 {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.config.IngesterParallelism)

		for _, item := range batch {
			item := item
			g.Go(func() error {
				result, err := w.ingester.IngestFile(gctx, item.Path)
				if err != nil {
					w.logger.Error(gctx, "ingestion failed",
						zap.String("path", item.Path),
						zap.String("level", item.Level.String()),
						zap.Error(err))
					return nil // one file's failure never aborts the batch
				}
				if !result.Skipped {
					w.logger.Debug(gctx, "ingested file",
						zap.String("path", item.Path),
						zap.Int("chunks_written", result.ChunksWritten),
						zap.Int("corrupt_lines", result.CorruptLines))
				}
				return nil
			})
		}

		_ = g.Wait()
	}
}
