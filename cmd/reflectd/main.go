// Package main implements the reflectd CLI: a background watcher that
// ingests Claude-Code-style conversation logs into a vector store, and
// a search surface over the resulting memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/basalt-run/reflectd/internal/config"
	"github.com/basalt-run/reflectd/internal/conversation"
	"github.com/basalt-run/reflectd/internal/embeddings"
	"github.com/basalt-run/reflectd/internal/freshness"
	"github.com/basalt-run/reflectd/internal/governor"
	"github.com/basalt-run/reflectd/internal/ingest"
	"github.com/basalt-run/reflectd/internal/logging"
	"github.com/basalt-run/reflectd/internal/search"
	"github.com/basalt-run/reflectd/internal/state"
	"github.com/basalt-run/reflectd/internal/vectorstore"
	"github.com/basalt-run/reflectd/internal/watcher"
	"github.com/spf13/cobra"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitStoreUnreachable = 3
	exitProviderUnavailable = 4
)

var (
	configPath string
	version    = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errConfig):
		return exitConfigError
	case errors.Is(err, vectorstore.ErrConnectionFailed):
		return exitStoreUnreachable
	case errors.Is(err, embeddings.ErrAuthFailure), errors.Is(err, search.ErrEmbeddingUnavailable):
		return exitProviderUnavailable
	default:
		return 1
	}
}

var errConfig = errors.New("configuration error")

var rootCmd = &cobra.Command{
	Use:     "reflectd",
	Short:   "Ingest and search Claude Code conversation history",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to ~/.config/reflectd/config.yaml)")
	rootCmd.AddCommand(watchCmd, searchCmd, storeReflectionCmd, statusCmd, doctorCmd)
}

// deps bundles the components every subcommand needs, constructed once
// from the loaded configuration.
type deps struct {
	cfg       *config.Config
	logger    *logging.Logger
	provider  embeddings.Provider
	store     vectorstore.Store
	stateStore *state.Store
}

func bootstrap() (*deps, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: building logger: %v", errConfig, err)
	}

	provider, err := embeddings.New(embeddings.Config{
		PreferLocal: cfg.PreferLocal,
		CloudAPIKey: cfg.CloudAPIKey.Value(),
		Logger:      logger.Underlying(),
	})
	if err != nil {
		return nil, fmt.Errorf("constructing embedding provider: %w", err)
	}

	host, port, useTLS, err := parseStoreURL(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid store_url: %v", errConfig, err)
	}

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrConnectionFailed, err)
	}

	stateFilePath := filepath.Join(filepath.Dir(cfg.StateFile), provider.StateFilename())
	stateStore, err := state.Open(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("opening state file: %w", err)
	}

	return &deps{cfg: cfg, logger: logger, provider: provider, store: store, stateStore: stateStore}, nil
}

func parseStoreURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("missing host in %q", raw)
	}
	portStr := u.Port()
	if portStr == "" {
		port = 6334
	} else {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port in %q: %w", raw, err)
		}
	}
	useTLS = u.Scheme == "https" || u.Scheme == "grpcs"
	return host, port, useTLS, nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the watcher loop: scan, classify, and ingest conversation files",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.store.Close()
		defer d.provider.Close()

		memMonitor, err := governor.NewMemoryMonitor(uint64(d.cfg.MemoryWarningMB), uint64(d.cfg.MemoryLimitMB))
		if err != nil {
			return fmt.Errorf("constructing memory monitor: %w", err)
		}
		cpuMonitor := governor.NewCPUMonitor(float64(d.cfg.MaxCPUPercentPerCore))

		ingester := &ingest.Ingester{
			Reader:    conversation.NewReader(),
			Extractor: conversation.NewExtractor(),
			Provider:  d.provider,
			Store:     d.store,
			State:     d.stateStore,
			Memory:    memMonitor,
			CPU:       cpuMonitor,
			Logger:    d.logger,
		}

		w := watcher.New(watcher.Config{
			LogRoot:             d.cfg.LogsDir,
			ImportFrequency:     time.Duration(d.cfg.ImportFrequency),
			HotCheckInterval:    time.Duration(d.cfg.HotCheckIntervalS),
			IngesterParallelism: d.cfg.IngesterParallelism,
			ShutdownGrace:       time.Duration(d.cfg.ShutdownGrace),
			QueueCapacity:       d.cfg.MaxQueueSize,
			MaxColdPerCycle:     d.cfg.MaxColdFiles,
			Thresholds: freshness.Thresholds{
				Hot:         5 * time.Minute,
				Warm:        24 * time.Hour,
				MaxWarmWait: time.Duration(d.cfg.MaxWarmWaitMinutes),
			},
		}, ingester, memMonitor, cpuMonitor, d.logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w.Start(ctx)
		<-ctx.Done()
		w.Stop()
		return nil
	},
}

var (
	searchProject  string
	searchAll      bool
	searchLimit    int
	searchMinScore float64
	searchDecay    string
)

var searchCmd = &cobra.Command{
	Use:   "search \"<q>\"",
	Short: "Search conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.store.Close()
		defer d.provider.Close()

		engine := newEngine(d)

		scope := search.ScopeCurrent
		if searchAll {
			scope = search.ScopeAll
		}

		decay := search.DecayDefault
		switch searchDecay {
		case "on":
			decay = search.DecayOn
		case "off":
			decay = search.DecayOff
		}

		resp, err := engine.Reflect(cmd.Context(), args[0], search.Options{
			Project:  searchProject,
			Limit:    searchLimit,
			MinScore: searchMinScore,
			UseDecay: decay,
			Scope:    scope,
			Format:   search.FormatBrief,
		})
		if err != nil {
			return err
		}

		fmt.Println(search.Render(resp, search.FormatBrief))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchProject, "project", "", "explicit project override")
	searchCmd.Flags().BoolVar(&searchAll, "all", false, "search across all projects")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.7, "minimum similarity score")
	searchCmd.Flags().StringVar(&searchDecay, "decay", "default", "decay mode: on, off, or default")
}

var storeReflectionTags []string

var storeReflectionCmd = &cobra.Command{
	Use:   "store-reflection \"<text>\"",
	Short: "Persist a self-authored memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.store.Close()
		defer d.provider.Close()

		engine := newEngine(d)
		if err := engine.StoreReflection(cmd.Context(), args[0], storeReflectionTags); err != nil {
			return err
		}
		fmt.Println("stored")
		return nil
	},
}

func init() {
	storeReflectionCmd.Flags().StringArrayVar(&storeReflectionTags, "tag", nil, "tag to attach (repeatable)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize state file and store counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.store.Close()
		defer d.provider.Close()

		snapshot := d.stateStore.Snapshot()
		fmt.Printf("tracked files: %d\n", len(snapshot))
		totalChunks := 0
		totalCorrupt := 0
		for _, rec := range snapshot {
			totalChunks += rec.ChunksWritten
			totalCorrupt += rec.CorruptLineCount
		}
		fmt.Printf("chunks written: %d\n", totalChunks)
		fmt.Printf("corrupt lines skipped: %d\n", totalCorrupt)

		collections, err := d.store.ListCollections(cmd.Context())
		if err != nil {
			fmt.Printf("store collections: unavailable (%v)\n", err)
			return nil
		}
		fmt.Printf("store collections: %d\n", len(collections))
		for _, c := range collections {
			info, err := d.store.GetCollectionInfo(cmd.Context(), c)
			if err != nil {
				continue
			}
			fmt.Printf("  %s: %d points (dim %d)\n", info.Name, info.PointCount, info.VectorSize)
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostics: config validity, store reachability, provider health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			fmt.Printf("config: FAIL (%v)\n", err)
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		fmt.Println("config: OK")

		host, port, useTLS, err := parseStoreURL(cfg.StoreURL)
		if err != nil {
			fmt.Printf("store_url: FAIL (%v)\n", err)
			return fmt.Errorf("%w: %v", errConfig, err)
		}

		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{Host: host, Port: port, UseTLS: useTLS})
		if err != nil {
			fmt.Printf("store: FAIL (%v)\n", err)
			return fmt.Errorf("%w: %v", vectorstore.ErrConnectionFailed, err)
		}
		defer store.Close()
		fmt.Println("store: OK")

		provider, err := embeddings.New(embeddings.Config{
			PreferLocal: cfg.PreferLocal,
			CloudAPIKey: cfg.CloudAPIKey.Value(),
		})
		if err != nil {
			fmt.Printf("embedding provider: FAIL (%v)\n", err)
			return fmt.Errorf("%w: %v", embeddings.ErrAuthFailure, err)
		}
		defer provider.Close()
		fmt.Printf("embedding provider: OK (%s, dim %d)\n", provider.Suffix(), provider.Dim())

		return nil
	},
}

func newEngine(d *deps) *search.Engine {
	return &search.Engine{
		Store:    d.store,
		Provider: d.provider,
		Decay: search.DecayConfig{
			EnabledByDefault: d.cfg.EnableMemoryDecay,
			AgeField:         "timestamp_ms",
			Weight:           d.cfg.DecayWeight,
			ScaleDays:        d.cfg.DecayScaleDays,
		},
		Logger: d.logger,
	}
}
