package interview

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nexus-build/nexus/internal/core"
)

// markdownTranscript renders a session's turns and captured requirements
// as a markdown document, in the teacher's own heading/bullet idiom
// (internal/parser/markdown.go's frontmatter-plus-task-section layout,
// adapted here to a conversation-plus-requirements layout instead of a
// task plan).
func markdownTranscript(s *core.InterviewSession) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Interview transcript: %s\n\n", s.ProjectID)
	fmt.Fprintf(&sb, "Mode: %s  \nStatus: %s  \nStarted: %s\n\n", s.Mode, s.Status, s.StartedAt.Format("2006-01-02 15:04:05"))

	sb.WriteString("## Conversation\n\n")
	for _, m := range s.Messages {
		who := "Nexus"
		if m.Role == core.RoleUser {
			who = "You"
		}
		fmt.Fprintf(&sb, "**%s** (%s):\n\n%s\n\n", who, m.Timestamp.Format("15:04:05"), m.Text)
	}

	if len(s.ExtractedRequirements) > 0 {
		sb.WriteString("## Requirements captured\n\n")
		for _, r := range s.ExtractedRequirements {
			fmt.Fprintf(&sb, "- **[%s/%s]** %s", r.Category, r.Priority, r.Text)
			if r.Area != "" {
				fmt.Fprintf(&sb, " _(area: %s)_", r.Area)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderTranscriptHTML converts a session's markdown transcript
// (markdownTranscript) to a standalone HTML fragment via goldmark, for
// sharing a completed interview outside the terminal (e.g. attaching to
// a project kickoff doc). Optional: callers that only want the raw
// markdown can use markdownTranscript directly.
func RenderTranscriptHTML(s *core.InterviewSession) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdownTranscript(s)), &buf); err != nil {
		return "", fmt.Errorf("interview: render transcript: %w", err)
	}
	return buf.String(), nil
}
