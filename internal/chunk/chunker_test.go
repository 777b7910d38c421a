package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyText(t *testing.T) {
	assert.Nil(t, Split(""))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	text := "hello world"
	chunks := Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.False(t, chunks[0].Overlap)
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	a := Split(text)
	b := Split(text)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestSplit_LongTextProducesOverlappingChunks(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := Split(text)
	require.True(t, len(chunks) > 1)
	assert.False(t, chunks[0].Overlap)
	for _, c := range chunks[1:] {
		assert.True(t, c.Overlap)
	}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplit_NeverProducesEmptyChunks(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	for _, c := range Split(text) {
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}

func TestEstimateTokens_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_GrowsWithLongerText(t *testing.T) {
	short := EstimateTokens("the quick brown fox")
	long := EstimateTokens(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50))
	assert.Greater(t, long, short)
}
