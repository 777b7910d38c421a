// Package vectorstore is a typed adapter over the external vector store:
// collection lifecycle, point upsert, scroll, count, and decay-aware
// search. The store itself (Qdrant) is an external collaborator; this
// package owns only the wire contract the rest of the system depends on.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrEmptyPoints           = errors.New("empty point batch")
	ErrConnectionFailed      = errors.New("failed to connect to vector store")
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConfigMismatch is raised when an existing collection's
	// dimension does not match the provider's. It is fatal for the
	// affected collection; the adapter never implicitly drops or
	// recreates the collection to resolve it.
	ErrConfigMismatch = errors.New("collection dimension mismatch")
)

// Distance is the similarity metric used by a collection.
type Distance string

// Cosine is the only distance metric this system creates collections with.
const Cosine Distance = "cosine"

// Point is a stored record: an identifier, its embedding vector, and an
// arbitrary payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point returned from a search, carrying its similarity
// (or decay-adjusted) score.
type ScoredPoint struct {
	Point
	Score float64
}

// Filter restricts scroll/count/search/delete to points whose payload
// matches. A nil or zero Filter matches everything. Only equality
// matching on string/keyword fields is required by this system.
type Filter struct {
	Must map[string]string
}

// Decay describes the server-side (or client-side fallback) exponential
// time-decay re-scoring applied during search, per spec §4.5:
// final_score = similarity + Weight * exp_decay(AgeField, now, Scale, midpoint=0.5)
type Decay struct {
	// AgeField is the numeric payload key holding milliseconds since
	// epoch. String/ISO timestamp keys are rejected by some store
	// versions, so this MUST be the numeric key.
	AgeField string
	Weight   float64
	Scale    float64 // in the same units as AgeField (milliseconds)
}

// SearchPath reports which code path produced a search's results, for
// observability: the adapter is required to expose this.
type SearchPath string

const (
	SearchPathNative      SearchPath = "native"       // server-side decay formula
	SearchPathClientFallback SearchPath = "client_fallback" // store rejected the formula
	SearchPathPlain       SearchPath = "plain"        // no decay requested
)

// SearchResult is the outcome of a search call.
type SearchResult struct {
	Points []ScoredPoint
	Path   SearchPath
}

// CollectionInfo is metadata about an existing collection.
type CollectionInfo struct {
	Name       string
	PointCount int
	VectorSize int
}

// Store is the typed operation set this system needs from the external
// vector store. Implementations are transport-agnostic; QdrantStore is
// the gRPC-native one this codebase ships.
type Store interface {
	// EnsureCollection is idempotent. On dimension mismatch with an
	// existing collection it returns ErrConfigMismatch; it never
	// implicitly drops or recreates the collection.
	EnsureCollection(ctx context.Context, name string, dim int, distance Distance, onDiskPayload bool) error

	// Upsert writes points to collection, internally batching to the
	// target size (100 points per wire call).
	Upsert(ctx context.Context, collection string, points []Point) error

	// Scroll pages through a collection's points.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) (points []Point, nextOffset string, err error)

	// Count returns the number of points matching filter (or all points
	// if filter is nil).
	Count(ctx context.Context, collection string, filter *Filter) (int, error)

	// Search runs a similarity search, optionally decay-scored. The
	// returned SearchResult.Path records whether the native formula or
	// the client-side fallback was used.
	Search(ctx context.Context, collection string, queryVector []float32, limit int, minScore float64, decay *Decay) (SearchResult, error)

	// Delete removes points by ID or by filter.
	Delete(ctx context.Context, collection string, ids []string, filter *Filter) error

	// CollectionExists reports whether collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// ListCollections lists all collection names known to the store.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionInfo returns metadata, or ErrCollectionNotFound.
	GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close releases the store connection.
	Close() error
}
