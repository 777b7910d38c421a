// Package embeddings provides the two interchangeable embedding providers
// (a cloud HTTP API and a local on-device model) behind a single contract.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Sentinel errors shared by both providers.
var (
	ErrInvalidConfig  = errors.New("invalid embedding provider configuration")
	ErrEmptyInput     = errors.New("empty or nil input texts")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
	ErrAuthFailure    = errors.New("cloud embedding provider authentication failed")
)

// Provider is the embedding contract exposed to the rest of the system.
type Provider interface {
	// Dim is the vector dimension this provider produces.
	Dim() int
	// Suffix is the collection-name suffix for this provider ("local" or "voyage").
	Suffix() string
	// StateFilename is the state file this provider's ingester should use.
	StateFilename() string
	// EmbedQuery generates one query-mode vector.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments generates batched document-mode vectors, preserving
	// input order. Rejects empty input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// PreferLocal selects the local provider when true (default). If
	// false and no cloud API key is configured, the system falls back
	// to local and logs the decision rather than failing startup.
	PreferLocal bool

	// CloudAPIKey is the Voyage-style API key. Required for the cloud
	// provider; missing/invalid is fatal at provider construction.
	CloudAPIKey string
	CloudModel  string
	CloudBaseURL string

	LocalModel    string
	LocalCacheDir string

	Logger *zap.Logger
}

// New selects and constructs a provider per the prefer_local policy in
// spec §4.4: prefer_local=true always uses local; prefer_local=false uses
// cloud if a key is present, else falls back to local with a logged
// decision. It never fails startup solely because the cloud key is missing.
func New(cfg Config) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.PreferLocal && cfg.CloudAPIKey != "" {
		p, err := NewCloudProvider(CloudConfig{
			APIKey:  cfg.CloudAPIKey,
			Model:   cfg.CloudModel,
			BaseURL: cfg.CloudBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("constructing cloud embedding provider: %w", err)
		}
		return p, nil
	}

	if !cfg.PreferLocal {
		logger.Info("no cloud API key configured, falling back to local embedding provider",
			zap.Bool("prefer_local", cfg.PreferLocal))
	}

	return NewLocalProvider(LocalConfig{
		Model:    cfg.LocalModel,
		CacheDir: cfg.LocalCacheDir,
	})
}
