package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conversation.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadFrom_NestedMessageShape(t *testing.T) {
	content := `{"message":{"role":"user","content":"hello there"}}` + "\n"
	path := writeTemp(t, content)

	r := NewReader()
	messages, offset, corrupt, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, corrupt)
	assert.EqualValues(t, len(content), offset)
	require.Len(t, messages, 1)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "hello there", messages[0].Content)
}

func TestReadFrom_TopLevelShape(t *testing.T) {
	content := `{"role":"assistant","content":"hi back"}` + "\n"
	path := writeTemp(t, content)

	r := NewReader()
	messages, _, corrupt, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, corrupt)
	require.Len(t, messages, 1)
	assert.Equal(t, RoleAssistant, messages[0].Role)
}

func TestReadFrom_ContentBlocks(t *testing.T) {
	content := `{"role":"assistant","content":[{"type":"text","text":"part one"},{"type":"tool_use","name":"Read","input":{"file_path":"/a.go"}}]}` + "\n"
	path := writeTemp(t, content)

	r := NewReader()
	messages, _, _, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "part one", messages[0].Content)
	require.Len(t, messages[0].ToolCalls, 1)
	assert.Equal(t, "Read", messages[0].ToolCalls[0].Name)
}

func TestReadFrom_CorruptLineCounted(t *testing.T) {
	content := `{"role":"user","content":"one"}` + "\n" +
		`{broken` + "\n" +
		`{"role":"user","content":"two"}` + "\n"
	path := writeTemp(t, content)

	r := NewReader()
	messages, offset, corrupt, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, corrupt)
	assert.Len(t, messages, 2)
	assert.EqualValues(t, len(content), offset)
}

func TestReadFrom_HoldsPartialLine(t *testing.T) {
	complete := `{"role":"user","content":"finished"}` + "\n"
	partial := `{"role":"user","content":"unfinishe`
	path := writeTemp(t, complete+partial)

	r := NewReader()
	messages, offset, _, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.EqualValues(t, len(complete), offset)
}

func TestReadFrom_ResumesFromByteOffset(t *testing.T) {
	first := `{"role":"user","content":"one"}` + "\n"
	second := `{"role":"user","content":"two"}` + "\n"
	path := writeTemp(t, first+second)

	r := NewReader()
	_, offset, _, err := r.ReadFrom(path, 0)
	require.NoError(t, err)

	messages, _, _, err := r.ReadFrom(path, offset)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "two", messages[0].Content)
}

func TestReadFrom_SkipsUnrecognizedRole(t *testing.T) {
	content := `{"role":"system","content":"ignored"}` + "\n"
	path := writeTemp(t, content)

	r := NewReader()
	messages, _, corrupt, err := r.ReadFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, corrupt)
	assert.Empty(t, messages)
}
