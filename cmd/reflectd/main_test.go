package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/basalt-run/reflectd/internal/embeddings"
	"github.com/basalt-run/reflectd/internal/search"
	"github.com/basalt-run/reflectd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil-ish generic error", errors.New("boom"), 1},
		{"config error", fmt.Errorf("%w: bad yaml", errConfig), exitConfigError},
		{"store unreachable", fmt.Errorf("%w: dial failed", vectorstore.ErrConnectionFailed), exitStoreUnreachable},
		{"provider auth failure", fmt.Errorf("%w: bad key", embeddings.ErrAuthFailure), exitProviderUnavailable},
		{"embedding unavailable", fmt.Errorf("%w: no provider", search.ErrEmbeddingUnavailable), exitProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestParseStoreURL_DefaultsPortAndTLS(t *testing.T) {
	host, port, useTLS, err := parseStoreURL("http://localhost")
	assert.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.False(t, useTLS)
}

func TestParseStoreURL_GRPCSImpliesTLS(t *testing.T) {
	host, port, useTLS, err := parseStoreURL("grpcs://qdrant.internal")
	assert.NoError(t, err)
	assert.Equal(t, "qdrant.internal", host)
	assert.Equal(t, 6334, port, "missing port falls back to Qdrant's default gRPC port")
	assert.True(t, useTLS)
}

func TestParseStoreURL_MissingHostIsError(t *testing.T) {
	_, _, _, err := parseStoreURL("http://:6334")
	assert.Error(t, err)
}

func TestParseStoreURL_InvalidPortIsError(t *testing.T) {
	_, _, _, err := parseStoreURL("http://localhost:notaport")
	assert.Error(t, err)
}
