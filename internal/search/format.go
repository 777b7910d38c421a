package search

import (
	"fmt"
	"strings"
)

// Render renders a Response per its requested format: brief is a
// compact ranked list, markdown adds timestamps and collection
// provenance, raw includes the underlying payload unchanged.
func Render(resp Response, format Format) string {
	if len(resp.Hits) == 0 {
		return "no results"
	}

	var b strings.Builder
	switch format {
	case FormatMarkdown:
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "## %d. %s (score %.3f)\n", h.Rank, h.Project, h.Score)
			if ts, ok := h.Payload["timestamp"].(string); ok {
				fmt.Fprintf(&b, "_%s_ · `%s`\n\n", ts, h.Collection)
			}
			b.WriteString(h.Excerpt)
			b.WriteString("\n\n")
		}
	case FormatRaw:
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "%d\t%.4f\t%s\t%+v\n", h.Rank, h.Score, h.Collection, h.Payload)
		}
	default: // FormatBrief
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "%d. [%.3f] %s: %s\n", h.Rank, h.Score, h.Project, h.Excerpt)
		}
	}

	if resp.Degraded {
		b.WriteString("\n(degraded: one or more collections were skipped)\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
