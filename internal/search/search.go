// Package search implements the reflect/store_reflection/search_by_*
// query surface (C10): resolve target collections, embed the query,
// fan out to the vector store, merge and format results.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/basalt-run/reflectd/internal/embeddings"
	"github.com/basalt-run/reflectd/internal/logging"
	"github.com/basalt-run/reflectd/internal/project"
	"github.com/basalt-run/reflectd/internal/vectorstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrProjectUnknown is raised when scope=current is requested but no
// active project can be resolved from the environment/config signal.
var ErrProjectUnknown = errors.New("active project unknown")

// ErrEmbeddingUnavailable is raised when the configured embedding
// provider cannot produce a query vector at all (not a partial, per
// collection failure).
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// reflectionsCollectionPrefix names the reserved collection
// store_reflection writes self-authored memories into.
const reflectionsCollectionPrefix = "reflections_"

// DecayPreference is the tagged {On, Off, Default} variant replacing
// the source's runtime-flexible decay parameter, per spec §9.
type DecayPreference int

const (
	DecayDefault DecayPreference = -1
	DecayOff     DecayPreference = 0
	DecayOn      DecayPreference = 1
)

// Scope selects which collections a query targets.
type Scope string

const (
	ScopeCurrent Scope = "current"
	ScopeAll     Scope = "all"
)

// Format selects how results are rendered.
type Format string

const (
	FormatBrief    Format = "brief"
	FormatMarkdown Format = "markdown"
	FormatRaw      Format = "raw"
)

// Options configures one reflect call. Zero-value Limit/MinScore are
// replaced by the spec's documented defaults (5 and 0.7).
type Options struct {
	Project  string
	Limit    int
	MinScore float64
	UseDecay DecayPreference
	Scope    Scope
	Format   Format
}

func (o *Options) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.MinScore == 0 {
		o.MinScore = 0.7
	}
	if o.Scope == "" {
		o.Scope = ScopeCurrent
	}
	if o.Format == "" {
		o.Format = FormatBrief
	}
}

// Hit is one ranked result, already attributed to its source collection.
type Hit struct {
	Rank       int
	Score      float64
	Project    string
	Collection string
	Excerpt    string
	Payload    map[string]any
}

// Response is the outcome of a reflect call. QueryID correlates this
// response with its log lines — useful when Degraded is true and a
// human needs to pull the per-collection warnings back out of logs.
type Response struct {
	QueryID  string
	Hits     []Hit
	Path     vectorstore.SearchPath
	Degraded bool
	Warnings []string
}

// DecayConfig carries the configured defaults applied when
// UseDecay == DecayDefault.
type DecayConfig struct {
	EnabledByDefault bool
	AgeField         string
	Weight           float64
	ScaleDays        float64
}

// ActiveProjectFunc resolves the active project directory from an
// environment or configuration signal. DefaultActiveProjectFunc reads
// REFLECTD_PROJECT_DIR, falling back to the process's working directory.
type ActiveProjectFunc func() (string, bool)

// DefaultActiveProjectFunc is the out-of-the-box signal: an explicit
// override env var, or the current working directory.
func DefaultActiveProjectFunc() (string, bool) {
	if dir := os.Getenv("REFLECTD_PROJECT_DIR"); dir != "" {
		return dir, true
	}
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd, true
	}
	return "", false
}

// Engine is the search surface described by spec §4.10.
type Engine struct {
	Store       vectorstore.Store
	Provider    embeddings.Provider
	Decay       DecayConfig
	ActiveFunc  ActiveProjectFunc
	Logger      *logging.Logger
}

func (e *Engine) activeFunc() ActiveProjectFunc {
	if e.ActiveFunc != nil {
		return e.ActiveFunc
	}
	return DefaultActiveProjectFunc
}

// Reflect is the primary semantic search operation.
func (e *Engine) Reflect(ctx context.Context, query string, opts Options) (Response, error) {
	opts.applyDefaults()
	queryID := uuid.NewString()

	decay := e.resolveDecay(opts.UseDecay)

	qvec, err := e.Provider.EmbedQuery(ctx, query)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	collections, err := e.resolveCollections(ctx, opts.Scope, opts.Project)
	if err != nil {
		return Response{}, err
	}

	perCollectionLimit := opts.Limit
	if len(collections) > 1 && perCollectionLimit < 5 {
		perCollectionLimit = 5
	}

	var hits []Hit
	var warnings []string
	degraded := false
	path := vectorstore.SearchPathPlain

	for _, coll := range collections {
		result, err := e.Store.Search(ctx, coll, qvec, perCollectionLimit, opts.MinScore, decay)
		if err != nil {
			degraded = true
			warnings = append(warnings, fmt.Sprintf("collection %s skipped: %v", coll, err))
			if e.Logger != nil {
				e.Logger.Warn(ctx, "search collection failed", zap.String("query_id", queryID), zap.String("collection", coll), zap.Error(err))
			}
			continue
		}
		path = result.Path
		for _, sp := range result.Points {
			hits = append(hits, Hit{
				Score:      sp.Score,
				Project:    stringPayload(sp.Payload, "project"),
				Collection: coll,
				Excerpt:    excerpt(stringPayload(sp.Payload, "text"), 200),
				Payload:    sp.Payload,
			})
		}
	}

	if len(collections) > 0 && len(hits) == 0 && degraded && len(collections) == len(warnings) {
		// every collection failed: still return partial (empty) results
		// with warnings rather than erroring, per spec §4.10 failure semantics.
	}

	sortHits(hits)
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}

	return Response{QueryID: queryID, Hits: hits, Path: path, Degraded: degraded, Warnings: warnings}, nil
}

// QuickSearch is the limit=1 convenience variant of Reflect.
func (e *Engine) QuickSearch(ctx context.Context, query string, opts Options) (Response, error) {
	opts.Limit = 1
	return e.Reflect(ctx, query, opts)
}

// GetMoreResults re-runs the same query and returns the slice starting
// at offset, for pagination over the same ranked list.
func (e *Engine) GetMoreResults(ctx context.Context, query string, opts Options, offset, limit int) (Response, error) {
	opts.Limit = offset + limit
	resp, err := e.Reflect(ctx, query, opts)
	if err != nil {
		return Response{}, err
	}
	if offset >= len(resp.Hits) {
		resp.Hits = nil
		return resp, nil
	}
	resp.Hits = resp.Hits[offset:]
	for i := range resp.Hits {
		resp.Hits[i].Rank = offset + i + 1
	}
	return resp, nil
}

// SearchByFile is a payload-filter search requiring no embedding: it
// matches chunks whose files_edited or files_analyzed list contains
// filePath.
func (e *Engine) SearchByFile(ctx context.Context, filePath string, opts Options) (Response, error) {
	opts.applyDefaults()

	collections, err := e.resolveCollections(ctx, opts.Scope, opts.Project)
	if err != nil {
		return Response{}, err
	}

	seen := make(map[string]bool)
	var hits []Hit
	var warnings []string
	degraded := false

	for _, coll := range collections {
		for _, field := range []string{"files_edited", "files_analyzed"} {
			points, _, err := e.Store.Scroll(ctx, coll, &vectorstore.Filter{Must: map[string]string{field: filePath}}, opts.Limit, "")
			if err != nil {
				degraded = true
				warnings = append(warnings, fmt.Sprintf("collection %s (%s) skipped: %v", coll, field, err))
				continue
			}
			for _, p := range points {
				if seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				hits = append(hits, Hit{
					Score:      0,
					Project:    stringPayload(p.Payload, "project"),
					Collection: coll,
					Excerpt:    excerpt(stringPayload(p.Payload, "text"), 200),
					Payload:    p.Payload,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return int64Payload(hits[i].Payload, "timestamp_ms") > int64Payload(hits[j].Payload, "timestamp_ms")
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}

	return Response{Hits: hits, Path: vectorstore.SearchPathPlain, Degraded: degraded, Warnings: warnings}, nil
}

// SearchByConcept combines a payload-filter match on the concepts field
// with an optional semantic search, merging and de-duplicating results.
func (e *Engine) SearchByConcept(ctx context.Context, concept string, includeSemantic bool, opts Options) (Response, error) {
	opts.applyDefaults()

	collections, err := e.resolveCollections(ctx, opts.Scope, opts.Project)
	if err != nil {
		return Response{}, err
	}

	seen := make(map[string]bool)
	var hits []Hit
	var warnings []string
	degraded := false

	for _, coll := range collections {
		points, _, err := e.Store.Scroll(ctx, coll, &vectorstore.Filter{Must: map[string]string{"concepts": concept}}, opts.Limit, "")
		if err != nil {
			degraded = true
			warnings = append(warnings, fmt.Sprintf("collection %s skipped: %v", coll, err))
			continue
		}
		for _, p := range points {
			id, _ := p.Payload["conversation_id"].(string)
			seen[id+fmt.Sprint(p.Payload["chunk_index"])] = true
			hits = append(hits, Hit{
				Project:    stringPayload(p.Payload, "project"),
				Collection: coll,
				Excerpt:    excerpt(stringPayload(p.Payload, "text"), 200),
				Payload:    p.Payload,
			})
		}
	}

	if includeSemantic {
		semantic, err := e.Reflect(ctx, concept, opts)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("semantic pass skipped: %v", err))
			degraded = true
		} else {
			for _, h := range semantic.Hits {
				id, _ := h.Payload["conversation_id"].(string)
				key := id + fmt.Sprint(h.Payload["chunk_index"])
				if seen[key] {
					continue
				}
				seen[key] = true
				hits = append(hits, h)
			}
		}
	}

	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}

	return Response{Hits: hits, Degraded: degraded, Warnings: warnings}, nil
}

// StoreReflection persists a self-authored memory into the reserved
// reflections collection, using the same point schema as conversation
// chunks.
func (e *Engine) StoreReflection(ctx context.Context, content string, tags []string) error {
	collection := reflectionsCollectionPrefix + e.Provider.Suffix()
	if err := e.Store.EnsureCollection(ctx, collection, e.Provider.Dim(), vectorstore.Cosine, true); err != nil {
		return fmt.Errorf("ensuring reflections collection: %w", err)
	}

	vec, err := e.Provider.EmbedQuery(ctx, content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	now := time.Now()
	sum := sha256.Sum256([]byte(fmt.Sprintf("reflection_%d_v2", now.UnixNano())))
	id := hex.EncodeToString(sum[:])[:32]

	payload := map[string]any{
		"text":             content,
		"timestamp":        now.Format(time.RFC3339),
		"timestamp_ms":     now.UnixMilli(),
		"chunking_version": "v2",
		"chunk_method":     "reflection",
		"concepts":         tags,
	}

	return e.Store.Upsert(ctx, collection, []vectorstore.Point{{ID: id, Vector: vec, Payload: payload}})
}

func (e *Engine) resolveDecay(pref DecayPreference) *vectorstore.Decay {
	enabled := e.Decay.EnabledByDefault
	switch pref {
	case DecayOn:
		enabled = true
	case DecayOff:
		enabled = false
	}
	if !enabled {
		return nil
	}
	return &vectorstore.Decay{
		AgeField: e.Decay.AgeField,
		Weight:   e.Decay.Weight,
		Scale:    e.Decay.ScaleDays * 24 * 60 * 60 * 1000,
	}
}

func (e *Engine) resolveCollections(ctx context.Context, scope Scope, explicitProject string) ([]string, error) {
	suffix := e.Provider.Suffix()

	if scope == ScopeAll {
		all, err := e.Store.ListCollections(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing collections: %w", err)
		}
		var matched []string
		for _, c := range all {
			if strings.HasSuffix(c, "_"+suffix) {
				matched = append(matched, c)
			}
		}
		return matched, nil
	}

	name := explicitProject
	if name == "" {
		dir, ok := e.activeFunc()
		if !ok {
			return nil, ErrProjectUnknown
		}
		resolved, err := project.Name(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProjectUnknown, err)
		}
		name = resolved
	}

	return []string{project.CollectionName(name, suffix)}, nil
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return int64Payload(hits[i].Payload, "timestamp_ms") > int64Payload(hits[j].Payload, "timestamp_ms")
	})
}

func stringPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func int64Payload(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func excerpt(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}
