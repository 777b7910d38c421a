package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// readBlockSize bounds how much of a conversation file is buffered
// before lines are split out, per spec §4.8 step 3 ("read in bounded
// blocks; split by newline; hold at most one partial line in memory").
const readBlockSize = 256 * 1024

// jsonlRecord is the raw shape of one conversation-file line. Both
// recognized record shapes (nested `message` object, or a top-level
// role/content pair) are probed at unmarshal time.
type jsonlRecord struct {
	Type      string          `json:"type,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type nestedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Reader parses a conversation file incrementally, resuming from an
// arbitrary byte offset.
type Reader struct{}

// NewReader constructs a conversation file reader.
func NewReader() *Reader { return &Reader{} }

// ReadFrom reads every complete line in path starting at byteOffset and
// returns the parsed messages, the new offset to resume from (the
// start of the first not-yet-consumed partial line, or EOF), and a
// count of lines that failed to parse as JSON. Corrupt lines still
// advance the offset — they are skipped, not retried.
func (r *Reader) ReadFrom(path string, byteOffset int64) (messages []Message, newOffset int64, corruptLines int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, byteOffset, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	if byteOffset > 0 {
		if _, err := file.Seek(byteOffset, io.SeekStart); err != nil {
			return nil, byteOffset, 0, fmt.Errorf("seeking %s to %d: %w", path, byteOffset, err)
		}
	}

	reader := bufio.NewReaderSize(file, readBlockSize)
	offset := byteOffset

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return messages, offset, corruptLines, fmt.Errorf("reading %s: %w", path, readErr)
		}
		if readErr == io.EOF {
			// A trailing line with no newline is incomplete; leave it
			// unconsumed so the next read picks it up once the writer
			// finishes the line.
			if line != "" {
				break
			}
			break
		}

		offset += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		msg, ok := parseLine(trimmed)
		if !ok {
			corruptLines++
			continue
		}
		if msg != nil {
			messages = append(messages, *msg)
		}
	}

	return messages, offset, corruptLines, nil
}

// parseLine parses one JSONL record. The second return value is false
// when the line is malformed JSON or when a known field (such as
// `message` or `role`) has the wrong JSON type; a line that parses but carries
// no recognized message shape returns (nil, true) and is silently
// skipped (tool plumbing, metadata records).
func parseLine(line string) (*Message, bool) {
	var rec jsonlRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, false
	}

	role := rec.Role
	content := rec.Content
	if len(rec.Message) > 0 {
		var nm nestedMessage
		if err := json.Unmarshal(rec.Message, &nm); err != nil {
			return nil, false
		}
		role = nm.Role
		content = nm.Content
	}

	if role != string(RoleUser) && role != string(RoleAssistant) {
		return nil, true
	}

	text, toolCalls := extractContent(content)
	if text == "" && len(toolCalls) == 0 {
		return nil, true
	}

	ts := time.Now()
	if rec.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			ts = parsed
		}
	}

	return &Message{
		Role:      Role(role),
		Content:   text,
		ToolCalls: toolCalls,
		Timestamp: ts,
	}, true
}

// extractContent flattens a content field that is either a plain
// string or a list of typed blocks into text plus any tool calls.
func extractContent(raw json.RawMessage) (string, []ToolCall) {
	if len(raw) == 0 {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}

	var textParts []string
	var toolCalls []ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case "tool_use":
			tc := ToolCall{Name: b.Name, Params: map[string]string{}}
			var inputMap map[string]any
			if err := json.Unmarshal(b.Input, &inputMap); err == nil {
				for k, v := range inputMap {
					tc.Params[k] = fmt.Sprintf("%v", v)
				}
			}
			toolCalls = append(toolCalls, tc)
		case "tool_result":
			if b.Content != "" && len(toolCalls) > 0 {
				toolCalls[len(toolCalls)-1].Result = b.Content
			}
		}
	}

	return strings.Join(textParts, "\n"), toolCalls
}
