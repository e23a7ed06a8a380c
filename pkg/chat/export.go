package chat

import (
	"fmt"
	"io"
	"strings"
)

// ExportMarkdown writes a thread as a Markdown transcript.
func ExportMarkdown(w io.Writer, t Thread) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", t.Title)
	fmt.Fprintf(&sb, "_Created %s_\n", t.CreatedAt.Format("2006-01-02 15:04"))
	if t.DocumentName != "" {
		fmt.Fprintf(&sb, "\nAttached document: `%s`\n", t.DocumentName)
	}
	if t.TableName != "" {
		fmt.Fprintf(&sb, "\nAttached table: `%s`\n", t.TableName)
	}

	for _, m := range t.Messages {
		switch m.Role {
		case RoleUser:
			sb.WriteString("\n## You\n\n")
		case RoleAssistant:
			sb.WriteString("\n## Assistant\n\n")
		default:
			fmt.Fprintf(&sb, "\n## %s\n\n", m.Role)
		}
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n")

		if m.Analysis != nil {
			sb.WriteString("\n**Analysis output**\n\n```\n")
			if m.Analysis.OK {
				sb.WriteString(strings.TrimRight(m.Analysis.Output, "\n"))
			} else {
				sb.WriteString("error: " + m.Analysis.Error)
			}
			sb.WriteString("\n```\n")
		}
		if len(m.Sources) > 0 {
			sb.WriteString("\n**Sources**\n\n")
			for i, src := range m.Sources {
				title := src.Title
				if title == "" {
					title = src.URL
				}
				fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, title, src.URL)
			}
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
