package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	cloudDim          = 1024
	cloudSuffix       = "voyage"
	cloudStateFile    = "state_voyage.json"
	defaultCloudModel = "voyage-3"
	defaultCloudURL   = "https://api.voyageai.com/v1/embeddings"

	retryBase = time.Second
	retryCap  = 30 * time.Second
	maxRetries = 3

	// defaultRequestsPerSecond bounds outbound calls to the cloud
	// provider's API so a burst of micro-batches can't trip its rate
	// limiter and turn transient 429s into a retry storm.
	defaultRequestsPerSecond = 4
	defaultBurst             = 4
)

// CloudConfig configures the Voyage-AI-shaped cloud embedding provider.
type CloudConfig struct {
	APIKey             string
	Model              string
	BaseURL            string
	RequestsPerSecond  float64 // 0 uses defaultRequestsPerSecond
	Logger             *zap.Logger
}

// CloudProvider is the cloud embedding provider: dim=1024, suffix=voyage.
// Network errors are retried up to 3 attempts with exponential backoff
// (base 1s, cap 30s, jittered ±20%); requests are tagged input_type=query
// or input_type=document.
type CloudProvider struct {
	client  *http.Client
	cfg     CloudConfig
	metrics *Metrics
	limiter *rate.Limiter
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type voyageResponse struct {
	Data []voyageEmbeddingData `json:"data"`
}

// NewCloudProvider constructs the cloud provider. A missing or empty API
// key is fatal at construction — this is never deferred to first use.
func NewCloudProvider(cfg CloudConfig) (*CloudProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: cloud API key is required", ErrAuthFailure)
	}
	if cfg.Model == "" {
		cfg.Model = defaultCloudModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &CloudProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		cfg:     cfg,
		metrics: NewMetrics(logger),
		limiter: rate.NewLimiter(rate.Limit(rps), defaultBurst),
	}, nil
}

func (p *CloudProvider) Dim() int            { return cloudDim }
func (p *CloudProvider) Suffix() string      { return cloudSuffix }
func (p *CloudProvider) StateFilename() string { return cloudStateFile }
func (p *CloudProvider) Close() error        { return nil }

// EmbedQuery generates one query-mode vector.
func (p *CloudProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.embed(ctx, []string{text}, "query", "embed_query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments generates batched document-mode vectors, preserving order.
func (p *CloudProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts, "document", "embed_documents")
}

func (p *CloudProvider) embed(ctx context.Context, texts []string, inputType, operation string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.cfg.Model, operation, time.Since(start), len(texts), genErr)
	}()

	reqBody := voyageRequest{Input: texts, Model: p.cfg.Model, InputType: inputType}
	body, err := json.Marshal(reqBody)
	if err != nil {
		genErr = fmt.Errorf("marshaling request: %w", err)
		return nil, genErr
	}

	var vectors [][]float32
	genErr = retryWithBackoff(ctx, func() error {
		vecs, err := p.doRequest(ctx, body)
		if err != nil {
			return err
		}
		vectors = vecs
		return nil
	})
	if genErr != nil {
		return nil, genErr
	}
	return vectors, nil
}

func (p *CloudProvider) doRequest(ctx context.Context, body []byte) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retryableErr{fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, retryableErr{fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var decoded voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	vectors := make([][]float32, len(decoded.Data))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
