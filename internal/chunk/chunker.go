// Package chunk implements the token-aware sliding-window chunking
// algorithm used to split concatenated conversation text into
// overlapping, search-sized pieces.
package chunk

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Version identifies the chunking algorithm. Re-chunking the same
// conversation with a different Version is the only supported migration
// path for existing chunks.
const Version = "v2"

// Method is the tag recorded alongside Version on every chunk.
const Method = "token_aware"

const (
	window  = 1600 // W: characters per chunk window
	overlap = 300  // O: characters of overlap between consecutive chunks
)

// separators are tried in order; the latest occurrence of the first one
// found wins.
var separators = []string{". ", ".\n", "! ", "? ", "\n\n", "\n", " "}

// Chunk is one contiguous, non-empty slice of a conversation's
// concatenated text.
type Chunk struct {
	Text    string
	Index   int
	Overlap bool // true if this chunk shares text with its predecessor
}

// Split produces the deterministic sequence of chunks for text. Chunks
// are non-empty, in order, and when concatenated (minus the overlapping
// regions) reconstruct the input. Splitting the same text twice always
// yields byte-identical results.
func Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	if len(text) <= window {
		return []Chunk{{Text: text, Index: 0}}
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + window
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			end = backwardSeparator(text, start, end)
		}

		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			chunks = append(chunks, Chunk{
				Text:    piece,
				Index:   len(chunks),
				Overlap: len(chunks) > 0,
			})
		}

		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

var (
	tokEnc     *tiktoken.Tiktoken
	tokEncOnce sync.Once
)

// EstimateTokens returns the real token count for text using the same
// encoding family the embedding providers are modeled on (cl100k_base),
// falling back to the spec's 1-token≈4-characters approximation if the
// encoder can't be loaded. Used by the ingester to size micro-batches
// against the chunker's token window rather than a raw byte count.
func EstimateTokens(text string) int {
	tokEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokEnc = enc
		}
	})
	if tokEnc == nil {
		return len(text) / 4
	}
	return len(tokEnc.Encode(text, nil, nil))
}

// backwardSeparator searches backward within [start, end) for the latest
// occurrence of any separator (tried in the fixed priority order),
// accepting only a position strictly past start + window/2 to avoid
// degenerate short chunks. It returns end unchanged if nothing qualifies.
func backwardSeparator(text string, start, end int) int {
	minPos := start + window/2

	for _, sep := range separators {
		searchSpace := text[start:end]
		idx := strings.LastIndex(searchSpace, sep)
		if idx < 0 {
			continue
		}
		pos := start + idx + len(sep)
		if pos > minPos {
			return pos
		}
	}
	return end
}
