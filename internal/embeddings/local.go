package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	localDim       = 384
	localSuffix    = "local"
	localStateFile = "state_local.json"
)

// LocalConfig configures the local, on-device embedding provider.
type LocalConfig struct {
	// Model defaults to BAAI/bge-small-en-v1.5 (dim 384).
	Model string
	// CacheDir is where the on-device model is cached. An absent cache
	// triggers a one-time download on first use; no network after warmup.
	CacheDir string
}

var localModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5": fastembed.BGESmallENV15,
	"BAAI/bge-small-en":      fastembed.BGESmallEN,
}

// LocalProvider runs a local ONNX embedding model (dim 384, suffix
// "local"). It is CPU-bound; callers are expected to gate batches with
// the CPU governor before invoking it.
type LocalProvider struct {
	model *fastembed.FlagEmbedding
	mu    sync.RWMutex
}

// NewLocalProvider constructs the local provider, downloading the model
// into CacheDir on first use if it is not already cached.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "BAAI/bge-small-en-v1.5"
	}
	model, ok := localModels[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported local model %q", ErrInvalidConfig, modelName)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing local embedding model: %w", err)
	}

	return &LocalProvider{model: flagEmbed}, nil
}

func (p *LocalProvider) Dim() int              { return localDim }
func (p *LocalProvider) Suffix() string        { return localSuffix }
func (p *LocalProvider) StateFilename() string { return localStateFile }

// EmbedQuery generates a query-mode embedding ("query: " prefix applied
// internally by the model).
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embedding, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embedding, nil
}

// EmbedDocuments generates document-mode embeddings ("passage: " prefix
// applied internally by the model).
func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embeddings, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embeddings, nil
}

// Close releases the underlying ONNX runtime resources.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}
