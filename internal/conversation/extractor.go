package conversation

import (
	"regexp"
	"strings"
)

// Extractor surfaces the lightweight per-message metadata chunk
// payloads carry: files touched, commits referenced, tools invoked,
// and a small set of topic words ("concepts").
type Extractor struct {
	commitSHAPattern *regexp.Regexp
	filePathPattern  *regexp.Regexp
}

// NewExtractor constructs a metadata extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		commitSHAPattern: regexp.MustCompile(`\b([a-f0-9]{7,40})\b`),
		filePathPattern:  regexp.MustCompile(`(?:^|[\s"'(])([a-zA-Z0-9_\-./]+\.[a-zA-Z0-9]+)(?:$|[\s"'):,])`),
	}
}

// ExtractFileReferences returns files touched by a message's tool
// calls, falling back to file-shaped paths mentioned in its text.
func (e *Extractor) ExtractFileReferences(msg Message) []FileReference {
	refs := make(map[string]FileReference)

	for _, tc := range msg.ToolCalls {
		if ref := e.extractFromToolCall(tc); ref != nil {
			if existing, ok := refs[ref.Path]; !ok || (ref.Action != existing.Action && ref.Action != ActionRead) {
				refs[ref.Path] = *ref
			}
		}
	}

	for _, path := range e.extractFilePathsFromText(msg.Content) {
		if _, ok := refs[path]; !ok {
			refs[path] = FileReference{Path: path, Action: ActionRead}
		}
	}

	out := make([]FileReference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref)
	}
	return out
}

func (e *Extractor) extractFromToolCall(tc ToolCall) *FileReference {
	switch tc.Name {
	case "Read":
		if path := tc.Params["file_path"]; path != "" {
			return &FileReference{Path: path, Action: ActionRead}
		}
	case "Edit":
		if path := tc.Params["file_path"]; path != "" {
			return &FileReference{Path: path, Action: ActionEdited}
		}
	case "Write":
		if path := tc.Params["file_path"]; path != "" {
			return &FileReference{Path: path, Action: ActionCreated}
		}
	case "Bash":
		cmd := tc.Params["command"]
		if strings.Contains(cmd, "rm ") || strings.Contains(cmd, "rm -") {
			if paths := e.extractFilePathsFromText(cmd); len(paths) > 0 {
				return &FileReference{Path: paths[0], Action: ActionDeleted}
			}
		}
	}
	return nil
}

func (e *Extractor) extractFilePathsFromText(text string) []string {
	matches := e.filePathPattern.FindAllStringSubmatch(text, -1)
	paths := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if len(m) > 1 && isValidFilePath(m[1]) && !seen[m[1]] {
			paths = append(paths, m[1])
			seen[m[1]] = true
		}
	}
	return paths
}

func isValidFilePath(path string) bool {
	if len(path) < 3 {
		return false
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return false
	}
	if strings.HasPrefix(path, "v") && regexp.MustCompile(`^v\d+\.\d+`).MatchString(path) {
		return false
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return false
	}
	ext := parts[len(parts)-1]
	return len(ext) >= 1 && len(ext) <= 10
}

// ExtractCommitReferences pulls git commit SHAs out of Bash tool calls.
func (e *Extractor) ExtractCommitReferences(msg Message) []CommitReference {
	var refs []CommitReference
	seen := make(map[string]bool)

	for _, tc := range msg.ToolCalls {
		if tc.Name != "Bash" || !strings.Contains(tc.Params["command"], "git") {
			continue
		}
		for _, c := range e.extractCommitsFromGitOutput(tc.Result, tc.Params["command"]) {
			if !seen[c.SHA] {
				refs = append(refs, c)
				seen[c.SHA] = true
			}
		}
	}
	return refs
}

func (e *Extractor) extractCommitsFromGitOutput(output, cmd string) []CommitReference {
	var refs []CommitReference

	if strings.Contains(cmd, "git commit") {
		if m := regexp.MustCompile(`\[[\w\-/]+\s+([a-f0-9]{7,40})\]\s+(.+)`).FindStringSubmatch(output); len(m) > 2 {
			refs = append(refs, CommitReference{SHA: m[1], Message: strings.TrimSpace(m[2])})
		}
	}

	if len(refs) == 0 {
		for _, sha := range e.commitSHAPattern.FindAllString(output, -1) {
			if len(sha) >= 7 {
				refs = append(refs, CommitReference{SHA: sha})
			}
		}
	}

	return refs
}

// conceptPattern matches backtick-quoted identifiers, a cheap stand-in
// for topic extraction that needs no external LLM call. Unquoted
// phrases in plain text are not picked up.
var conceptPattern = regexp.MustCompile("`([a-zA-Z0-9_./:-]{3,40})`")

// Summary is the aggregate metadata a micro-batch of messages
// contributes to the chunk(s) built from it.
type Summary struct {
	FilesAnalyzed   []string
	FilesEdited     []string
	ToolsUsed       []string
	Concepts        []string
	HasFileMetadata bool
}

// Summarize scans a batch of messages and aggregates the metadata
// fields chunk payloads expose, per spec §3.
func (e *Extractor) Summarize(messages []Message) Summary {
	analyzed := make(map[string]bool)
	edited := make(map[string]bool)
	tools := make(map[string]bool)
	concepts := make(map[string]bool)

	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			tools[tc.Name] = true
		}
		for _, ref := range e.ExtractFileReferences(msg) {
			switch ref.Action {
			case ActionEdited, ActionCreated, ActionDeleted:
				edited[ref.Path] = true
			default:
				analyzed[ref.Path] = true
			}
		}
		for _, m := range conceptPattern.FindAllStringSubmatch(msg.Content, -1) {
			concepts[m[1]] = true
		}
	}

	s := Summary{HasFileMetadata: len(analyzed) > 0 || len(edited) > 0}
	for k := range analyzed {
		s.FilesAnalyzed = append(s.FilesAnalyzed, k)
	}
	for k := range edited {
		s.FilesEdited = append(s.FilesEdited, k)
	}
	for k := range tools {
		s.ToolsUsed = append(s.ToolsUsed, k)
	}
	for k := range concepts {
		s.Concepts = append(s.Concepts, k)
	}
	return s
}
