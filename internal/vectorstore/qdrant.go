// Package vectorstore provides the Qdrant-backed Store implementation.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("reflectd.vectorstore.qdrant")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against the naming
// convention C1 produces: lowercase letters, digits, underscores, 1-64
// characters.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxMessageSize int

	CircuitBreakerThreshold int
}

func (c *QdrantConfig) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

func (c QdrantConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	collections sync.Map // name -> dim (int), cache of ensured collections

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore constructs a QdrantStore and performs a health check.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintln(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return store, nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries a transient-failing operation with exponential
// backoff jittered ±20% (delay = min(30, 2^attempt)s): one initial call
// plus up to MaxRetries (default 3) retries. Permanent errors and an
// open circuit breaker return immediately.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}

		s.recordFailure()
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil
}

// backoffDelay implements delay = min(30s, 2^attempt seconds), jittered ±20%.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Min(30, math.Pow(2, float64(attempt)))) * time.Second
	spread := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(base) + offset)
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// EnsureCollection is idempotent. On dimension mismatch it returns
// ErrConfigMismatch and never drops or recreates the collection.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance, onDiskPayload bool) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("dim", dim))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	info, err := s.GetCollectionInfo(ctx, name)
	if err == nil {
		if info.VectorSize != dim {
			return fmt.Errorf("%w: collection %s has dim %d, provider has dim %d", ErrConfigMismatch, name, info.VectorSize, dim)
		}
		s.collections.Store(name, dim)
		return nil
	}
	if err != ErrCollectionNotFound {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	qdistance := qdrant.Distance_Cosine
	_ = distance // only cosine is supported today; kept as a parameter for future distances

	createErr := s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdistance,
				OnDisk:   qdrant.PtrOf(onDiskPayload),
			}),
		})
	})
	if createErr != nil {
		span.RecordError(createErr)
		span.SetStatus(codes.Error, createErr.Error())
		return fmt.Errorf("creating collection %s: %w", name, createErr)
	}

	s.collections.Store(name, dim)
	span.SetStatus(codes.Ok, "created")
	return nil
}

const upsertBatchSize = 100

// Upsert writes points in batches of upsertBatchSize.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return ErrEmptyPoints
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]

		qpoints := make([]*qdrant.PointStruct, len(batch))
		for i, p := range batch {
			qpoints[i] = &qdrant.PointStruct{
				Id:      qdrant.NewID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: toQdrantPayload(p.Payload),
			}
		}

		err := s.retryOperation(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Points:         qpoints,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting batch [%d:%d] to %s: %w", start, end, collection, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Scroll pages through a collection.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Scroll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		Filter:         toQdrantFilter(filter),
	}
	if offset != "" {
		req.Offset = qdrant.NewID(offset)
	}

	var resp []*qdrant.RetrievedPoint
	var nextOffset string
	err := s.retryOperation(ctx, "scroll", func() error {
		points, err := s.client.Scroll(ctx, req)
		if err != nil {
			return err
		}
		resp = points
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("scrolling collection %s: %w", collection, err)
	}

	out := make([]Point, len(resp))
	for i, rp := range resp {
		out[i] = Point{
			ID:      idToString(rp.Id),
			Vector:  vectorsToFloat32(rp.Vectors),
			Payload: fromQdrantPayload(rp.Payload),
		}
	}
	if len(resp) == limit && limit > 0 {
		nextOffset = out[len(out)-1].ID
	}

	span.SetStatus(codes.Ok, "success")
	return out, nextOffset, nil
}

// Count returns the number of points matching filter.
func (s *QdrantStore) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		resp, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         toQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		count = resp
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

// Search runs a similarity search with the optional decay formula.
// Dimension safety: the caller (C4/C8) is responsible for ensuring
// queryVector's length matches the collection's configured dimension;
// EnsureCollection already guarantees the collection agrees with the
// provider's declared dimension.
func (s *QdrantStore) Search(ctx context.Context, collection string, queryVector []float32, limit int, minScore float64, decay *Decay) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit), attribute.Bool("decay", decay != nil))

	if err := ValidateCollectionName(collection); err != nil {
		return SearchResult{}, err
	}
	if limit <= 0 {
		return SearchResult{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	if decay == nil {
		points, err := s.plainSearch(ctx, collection, queryVector, limit, minScore)
		if err != nil {
			return SearchResult{}, err
		}
		return SearchResult{Points: points, Path: SearchPathPlain}, nil
	}

	points, err := s.nativeDecaySearch(ctx, collection, queryVector, limit, minScore, *decay)
	if err == nil {
		return SearchResult{Points: points, Path: SearchPathNative}, nil
	}

	// Store rejected the native formula (older server version): fetch
	// 3*limit candidates without decay, apply the formula client-side,
	// then truncate to limit.
	candidates, plainErr := s.plainSearch(ctx, collection, queryVector, limit*3, 0)
	if plainErr != nil {
		return SearchResult{}, fmt.Errorf("client-side decay fallback: %w", plainErr)
	}
	scored := applyDecayClientSide(candidates, *decay)
	scored = filterByMinScore(scored, minScore)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return SearchResult{Points: scored, Path: SearchPathClientFallback}, nil
}

func (s *QdrantStore) plainSearch(ctx context.Context, collection string, queryVector []float32, limit int, minScore float64) ([]ScoredPoint, error) {
	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		req := &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		}
		if minScore > 0 {
			req.ScoreThreshold = qdrant.PtrOf(float32(minScore))
		}
		res, err := s.client.Query(ctx, req)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	out := make([]ScoredPoint, len(results))
	for i, r := range results {
		out[i] = ScoredPoint{
			Point: Point{
				ID:      idToString(r.Id),
				Payload: fromQdrantPayload(r.Payload),
			},
			Score: float64(r.Score),
		}
	}
	return out, nil
}

// nativeDecaySearch asks Qdrant to apply the exponential-decay re-scoring
// formula server-side. Older store versions reject the formula query
// shape; the caller falls back to client-side scoring on any error here.
func (s *QdrantStore) nativeDecaySearch(ctx context.Context, collection string, queryVector []float32, limit int, minScore float64, decay Decay) ([]ScoredPoint, error) {
	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search_decay", func() error {
		formula := qdrant.NewExpressionSum(
			qdrant.NewExpressionVariable("$score"),
			qdrant.NewExpressionMult(
				qdrant.NewExpressionConstant(float32(decay.Weight)),
				qdrant.NewExpressionExpDecay(&qdrant.DecayParamsExpression{
					X:        qdrant.NewExpressionDatetimeKey(decay.AgeField),
					Target:    qdrant.NewExpressionDatetime("now"),
					Scale:     qdrant.PtrOf(float32(decay.Scale)),
					Midpoint:  qdrant.PtrOf(float32(0.5)),
				}),
			),
		)

		req := &qdrant.QueryPoints{
			CollectionName: collection,
			Prefetch: []*qdrant.PrefetchQuery{
				{Query: qdrant.NewQuery(queryVector...), Limit: qdrant.PtrOf(uint64(limit * 3))},
			},
			Query:       qdrant.NewQueryFormula(&qdrant.Formula{Expression: formula}),
			Limit:       qdrant.PtrOf(uint64(limit)),
			WithPayload: qdrant.NewWithPayload(true),
		}
		res, err := s.client.Query(ctx, req)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		if float64(r.Score) < minScore {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{
				ID:      idToString(r.Id),
				Payload: fromQdrantPayload(r.Payload),
			},
			Score: float64(r.Score),
		})
	}
	return out, nil
}

// Delete removes points by ID or by filter.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string, filter *Filter) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("id_count", len(ids)))

	var selector *qdrant.PointsSelector
	switch {
	case len(ids) > 0:
		qids := make([]*qdrant.PointId, len(ids))
		for i, id := range ids {
			qids[i] = qdrant.NewID(id)
		}
		selector = &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: qids},
			},
		}
	case filter != nil:
		selector = &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: toQdrantFilter(filter)},
		}
	default:
		return nil
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         selector,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}
	if _, ok := s.collections.Load(collection); ok {
		return true, nil
	}
	_, err := s.GetCollectionInfo(ctx, collection)
	if err == ErrCollectionNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.retryOperation(ctx, "list_collections", func() error {
		result, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	var info *CollectionInfo
	err := s.retryOperation(ctx, "get_collection_info", func() error {
		collInfo, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		pointCount := 0
		if collInfo.PointsCount != nil {
			pointCount = int(*collInfo.PointsCount)
		}
		vectorSize := 0
		if params := collInfo.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			vectorSize = int(params.GetSize())
		}
		info = &CollectionInfo{Name: collection, PointCount: pointCount, VectorSize: vectorSize}
		return nil
	})
	if err == ErrCollectionNotFound {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting collection info for %s: %w", collection, err)
	}
	return info, nil
}

var _ Store = (*QdrantStore)(nil)
