// Package conversation parses Claude-Code-style JSONL conversation logs
// into the message stream the chunker consumes, and surfaces the
// lightweight per-message metadata (files touched, tools used) that
// rides along in chunk payloads.
package conversation

import "time"

// Role is the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Action is the kind of file operation a tool call performed.
type Action string

const (
	ActionRead    Action = "read"
	ActionEdited  Action = "edited"
	ActionCreated Action = "created"
	ActionDeleted Action = "deleted"
)

// ToolCall is a tool invocation embedded in an assistant message.
type ToolCall struct {
	Name   string
	Params map[string]string
	Result string
}

// Message is one role-tagged record from a conversation file, after
// content blocks have been flattened to text.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall
	Timestamp time.Time
}

// FileReference is a file mentioned or touched within a message.
type FileReference struct {
	Path   string
	Action Action
}

// CommitReference is a git commit surfaced from the output of a Bash
// tool call that runs git.
type CommitReference struct {
	SHA     string
	Message string
}

// Chunk is the unit this system embeds, stores, and searches: a
// contiguous slice of a conversation's concatenated message text plus
// the metadata the search engine's payload filters depend on. Field
// names mirror the payload keys written to the vector store.
type Chunk struct {
	Text  string
	Index int // zero-based within the conversation

	ConversationID string
	Project        string

	Timestamp   time.Time
	TimestampMs int64

	ChunkingVersion string // "v2"
	ChunkMethod     string // "token_aware"
	ChunkOverlap    bool

	FilesAnalyzed   []string
	FilesEdited     []string
	ToolsUsed       []string
	Concepts        []string
	HasFileMetadata bool

	// PointID is the deterministic 32-hex-char identifier this chunk is
	// upserted under: first 32 hex chars of
	// SHA-256(conversation_id + "_" + chunk_index + "_v2").
	PointID string
}

// Payload renders the chunk's metadata as the generic map the vector
// store adapter's Point.Payload expects.
func (c Chunk) Payload() map[string]any {
	p := map[string]any{
		"text":             c.Text,
		"conversation_id":  c.ConversationID,
		"project":          c.Project,
		"chunk_index":      c.Index,
		"timestamp":        c.Timestamp.Format(time.RFC3339),
		"timestamp_ms":     c.TimestampMs,
		"chunking_version": c.ChunkingVersion,
		"chunk_method":     c.ChunkMethod,
		"chunk_overlap":    c.ChunkOverlap,
		"has_file_metadata": c.HasFileMetadata,
	}
	if len(c.FilesAnalyzed) > 0 {
		p["files_analyzed"] = c.FilesAnalyzed
	}
	if len(c.FilesEdited) > 0 {
		p["files_edited"] = c.FilesEdited
	}
	if len(c.ToolsUsed) > 0 {
		p["tools_used"] = c.ToolsUsed
	}
	if len(c.Concepts) > 0 {
		p["concepts"] = c.Concepts
	}
	return p
}
