package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basalt-run/reflectd/internal/freshness"
	"github.com/basalt-run/reflectd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	require.NoError(t, err)
	return New(Config{LogRoot: root}, nil, nil, nil, logger)
}

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, 5, c.BatchSize)
	assert.Equal(t, 1, c.IngesterParallelism)
	assert.Equal(t, 3, c.MaxColdPerCycle)
	assert.Equal(t, 10000, c.QueueCapacity)
	assert.Equal(t, freshness.DefaultThresholds(), c.Thresholds)
}

func TestScan_FindsJSONLAndSkipsOthers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(`{}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	w := newTestWatcher(t, dir)
	candidates := w.scan()
	require.Len(t, candidates, 1)
	assert.Equal(t, filepath.Join(dir, "a.jsonl"), candidates[0].Path)
}

func TestScan_SkipsUnchangedFileOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	w := newTestWatcher(t, dir)
	first := w.scan()
	require.Len(t, first, 1)

	second := w.scan()
	assert.Empty(t, second, "unchanged mtime/size must not be re-reported")
}

func TestScan_ReReportsAfterModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	w := newTestWatcher(t, dir)
	require.Len(t, w.scan(), 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"more":"data"}`), 0o600))
	assert.Len(t, w.scan(), 1, "a changed file must be reported again")
}
