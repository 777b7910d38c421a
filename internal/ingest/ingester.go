// Package ingest implements the per-file streaming pipeline (C8):
// read from the last committed byte offset, chunk, embed, upsert, and
// commit the new offset — fully incremental and crash-resumable.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basalt-run/reflectd/internal/chunk"
	"github.com/basalt-run/reflectd/internal/conversation"
	"github.com/basalt-run/reflectd/internal/embeddings"
	"github.com/basalt-run/reflectd/internal/governor"
	"github.com/basalt-run/reflectd/internal/logging"
	"github.com/basalt-run/reflectd/internal/project"
	"github.com/basalt-run/reflectd/internal/state"
	"github.com/basalt-run/reflectd/internal/vectorstore"
)

const (
	maxMessagesPerBatch = 64
	maxRawBytesPerBatch = 1 << 20 // 1MB
	maxTokensPerBatch   = 400     // one chunker window, spec §4.3
	embedBatchSize      = 32
	commitInterval      = time.Second

	retryBase    = time.Second
	retryCap     = 30 * time.Second
	maxRetries   = 3
)

// Result summarizes one file's ingestion pass.
type Result struct {
	MessagesRead     int
	ChunksWritten    int
	CorruptLines     int
	NewByteOffset    int64
	Skipped          bool // true if file was already fully committed
}

// Ingester wires the chunker, an embedding provider, the vector store
// adapter, and the state store into one per-file pipeline.
type Ingester struct {
	Reader    *conversation.Reader
	Extractor *conversation.Extractor
	Provider  embeddings.Provider
	Store     vectorstore.Store
	State     *state.Store
	Memory    *governor.MemoryMonitor
	CPU       *governor.CPUMonitor
	Logger    *logging.Logger
}

// IngestFile runs the full pipeline for one conversation file,
// resuming from its last committed byte offset. Errors on permanent
// failures (ErrConfigMismatch, auth failure) are returned immediately
// and the file's state is left untouched; transient errors are
// retried internally per spec §4.8 point 7.
func (ig *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	dir := filepath.Dir(path)
	conversationID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	projectName, collection, err := project.CollectionFor(dir, ig.Provider.Suffix())
	if err != nil {
		return Result{}, fmt.Errorf("resolving collection for %s: %w", path, err)
	}

	if err := ig.Store.EnsureCollection(ctx, collection, ig.Provider.Dim(), vectorstore.Cosine, true); err != nil {
		return Result{}, fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat-ing %s: %w", path, err)
	}
	currentSize := info.Size()

	rec, existed := ig.State.Get(path)
	if !existed {
		rec = state.Record{
			Path:            path,
			ConversationID:  conversationID,
			Project:         projectName,
			Collection:      collection,
			ChunkingVersion: chunk.Version,
		}
	}

	if rec.SizeAtLastCommit == currentSize {
		return Result{Skipped: true, NewByteOffset: rec.ByteOffset}, nil
	}

	messages, newOffset, corrupt, err := ig.Reader.ReadFrom(path, rec.ByteOffset)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s from offset %d: %w", path, rec.ByteOffset, err)
	}

	result := Result{MessagesRead: len(messages), CorruptLines: corrupt, NewByteOffset: newOffset}

	chunksWritten := rec.ChunksWritten
	lastCommit := time.Now()

	for _, batch := range microBatches(messages) {
		n, err := ig.processBatch(ctx, batch, conversationID, projectName, chunksWritten)
		if err != nil {
			// A failed batch leaves rec untouched: no partial commit.
			return result, fmt.Errorf("processing batch for %s: %w", path, err)
		}
		chunksWritten += n
		result.ChunksWritten += n

		if time.Since(lastCommit) >= commitInterval {
			rec.ByteOffset = newOffset
			rec.ChunksWritten = chunksWritten
			if err := ig.commitState(rec, currentSize); err != nil {
				return result, err
			}
			lastCommit = time.Now()
		}
	}

	// Either no messages were produced (entirely tool-plumbing lines)
	// or we've reached EOF: advance state regardless so the file is
	// not re-scanned endlessly (spec §4.8 invariant).
	rec.ByteOffset = newOffset
	rec.ChunksWritten = chunksWritten
	rec.CorruptLineCount += corrupt
	if err := ig.commitState(rec, currentSize); err != nil {
		return result, err
	}

	return result, nil
}

func (ig *Ingester) commitState(rec state.Record, currentSize int64) error {
	rec.SizeAtLastCommit = currentSize
	rec.LastModified = time.Now().UnixMilli()
	rec.LastImportedAt = time.Now().UnixMilli()
	if err := ig.State.Commit(rec); err != nil {
		return fmt.Errorf("committing state for %s: %w", rec.Path, err)
	}
	return nil
}

// microBatches groups messages so each group fills roughly one
// chunker window without exceeding the message/byte caps in spec §4.8
// step 4.
func microBatches(messages []conversation.Message) [][]conversation.Message {
	var batches [][]conversation.Message
	var current []conversation.Message
	var rawBytes, tokens int

	for _, m := range messages {
		current = append(current, m)
		rawBytes += len(m.Content)
		tokens += chunk.EstimateTokens(m.Content)
		if len(current) >= maxMessagesPerBatch || rawBytes >= maxRawBytesPerBatch || tokens >= maxTokensPerBatch {
			batches = append(batches, current)
			current = nil
			rawBytes, tokens = 0, 0
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// processBatch chunks, embeds, and upserts one micro-batch, returning
// the number of chunks written.
func (ig *Ingester) processBatch(ctx context.Context, batch []conversation.Message, conversationID, projectName string, chunkOffset int) (int, error) {
	if ig.CPU != nil && ig.CPU.ShouldThrottle() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(governor.ThrottleSleep):
		}
	}

	text := joinMessages(batch)
	if text == "" {
		return 0, nil
	}

	pieces := chunk.Split(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	summary := ig.Extractor.Summarize(batch)
	now := time.Now()

	chunks := make([]conversation.Chunk, len(pieces))
	for i, p := range pieces {
		index := chunkOffset + i
		chunks[i] = conversation.Chunk{
			Text:            p.Text,
			Index:           index,
			ConversationID:  conversationID,
			Project:         projectName,
			Timestamp:       now,
			TimestampMs:     now.UnixMilli(),
			ChunkingVersion: chunk.Version,
			ChunkMethod:     chunk.Method,
			ChunkOverlap:    p.Overlap,
			FilesAnalyzed:   summary.FilesAnalyzed,
			FilesEdited:     summary.FilesEdited,
			ToolsUsed:       summary.ToolsUsed,
			Concepts:        summary.Concepts,
			HasFileMetadata: summary.HasFileMetadata,
			PointID:         pointID(conversationID, index),
		}
	}

	if err := ig.embedAndUpsert(ctx, chunks); err != nil {
		return 0, err
	}

	return len(chunks), nil
}

func (ig *Ingester) embedAndUpsert(ctx context.Context, chunks []conversation.Chunk) error {
	collection := project.CollectionName(chunks[0].Project, ig.Provider.Suffix())

	points := make([]vectorstore.Point, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[start:end]

		texts := make([]string, len(group))
		for i, c := range group {
			texts[i] = c.Text
		}

		var vectors [][]float32
		err := ig.retry(ctx, func() error {
			v, err := ig.Provider.EmbedDocuments(ctx, texts)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
		if err != nil {
			return fmt.Errorf("embedding chunks: %w", err)
		}

		for i, c := range group {
			payload := c.Payload()
			points = append(points, vectorstore.Point{ID: c.PointID, Vector: vectors[i], Payload: payload})
		}
	}

	return ig.retry(ctx, func() error {
		return ig.Store.Upsert(ctx, collection, points)
	})
}

// retry applies the jittered exponential backoff retry policy from
// spec §4.8 point 7, stopping immediately on a permanent error
// (embeddings.ErrAuthFailure, vectorstore.ErrConfigMismatch) instead
// of burning the retry budget on something a fourth attempt can't fix.
// This is an outer bound on top of whatever classification
// vectorstore.QdrantStore.retryOperation and embeddings' own retry
// helper already perform internally.
func (ig *Ingester) retry(ctx context.Context, op func() error) error {
	delay := retryBase
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := op(); err != nil {
			if isPermanent(err) {
				return err
			}
			lastErr = err
			if attempt == maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(delay)):
			}
			delay = time.Duration(math.Min(float64(retryCap), float64(delay*2)))
			continue
		}
		return nil
	}
	return lastErr
}

// isPermanent reports whether err can never succeed on retry: bad
// credentials or a collection whose dimension no longer matches the
// active provider. Both require operator intervention, not backoff.
func isPermanent(err error) bool {
	return errors.Is(err, embeddings.ErrAuthFailure) || errors.Is(err, vectorstore.ErrConfigMismatch)
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

func joinMessages(batch []conversation.Message) string {
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// pointID computes the deterministic point identifier: the first 32
// hex chars of SHA-256(conversation_id + "_" + chunk_index + "_v2").
func pointID(conversationID string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d_v2", conversationID, chunkIndex)))
	return hex.EncodeToString(sum[:])[:32]
}
