package chat

import (
	"fmt"
	"strings"

	"github.com/mikeboe/research-chat/pkg/ingest"
	"github.com/mikeboe/research-chat/pkg/research"
)

const truncationMarker = "\n...[document truncated]"

// Assembler renders retrieved results and attachments into the context block
// placed after the system prompt.
type Assembler struct {
	// DocumentLimit caps the document in runes. Zero disables the cap.
	DocumentLimit int
	// SnippetLimit caps each web snippet in runes. Zero keeps snippets verbatim.
	SnippetLimit int
	PreviewRows  int
}

func (a Assembler) Assemble(results []research.SearchResult, document string, table *ingest.Table) string {
	var blocks []string
	if len(results) > 0 {
		blocks = append(blocks, a.webSources(results))
	}
	if strings.TrimSpace(document) != "" {
		blocks = append(blocks, "DOCUMENT CONTEXT:\n"+truncateTail(document, a.DocumentLimit, truncationMarker))
	}
	if table != nil && len(table.Columns) > 0 {
		blocks = append(blocks, a.dataPreview(table))
	}
	return strings.Join(blocks, "\n\n")
}

func (a Assembler) webSources(results []research.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("WEB SOURCES:")
	for i, r := range results {
		snippet := r.Content
		if a.SnippetLimit > 0 {
			snippet = truncateTail(snippet, a.SnippetLimit, "...")
		}
		fmt.Fprintf(&sb, "\n[%d] %s | URL: %s | CONTENT: %s", i+1, r.Title, r.URL, snippet)
	}
	return sb.String()
}

func (a Assembler) dataPreview(t *ingest.Table) string {
	rows := t.Head(a.PreviewRows)

	var sb strings.Builder
	sb.WriteString("DATA PREVIEW:\n")
	sb.WriteString(pipeRow(t.Columns))
	sb.WriteString("\n")
	sep := make([]string, len(t.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	sb.WriteString(pipeRow(sep))
	for _, row := range rows {
		sb.WriteString("\n")
		sb.WriteString(pipeRow(fitRow(row, len(t.Columns))))
	}
	fmt.Fprintf(&sb, "\n(showing %d of %d rows; columns: %s)", len(rows), len(t.Rows), strings.Join(t.Columns, ", "))
	return sb.String()
}

func pipeRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	return "| " + strings.Join(escaped, " | ") + " |"
}

// fitRow pads or cuts a ragged row to n cells.
func fitRow(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}

func truncateTail(s string, limit int, marker string) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + marker
}
