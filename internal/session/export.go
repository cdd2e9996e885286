package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportFormat selects the conversation export rendering.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
)

// Export renders a session's conversation in the requested format. Only the
// active attempt of each assistant group is included; superseded attempts
// are regeneration leftovers.
func Export(s *Session, format ExportFormat) (string, error) {
	switch format {
	case ExportJSON:
		return exportJSON(s)
	case ExportMarkdown, "":
		return exportMarkdown(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

type exportDocument struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	ProjectPath string           `json:"projectPath,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	Messages    []HistoryMessage `json:"messages"`
}

func exportJSON(s *Session) (string, error) {
	doc := exportDocument{
		ID:          s.ID,
		Title:       s.Title,
		ProjectPath: s.ProjectPath,
		CreatedAt:   s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, m := range s.History {
		if m.Role == RoleAssistant && !m.IsActiveAttempt {
			continue
		}
		doc.Messages = append(doc.Messages, m)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(data), nil
}

func exportMarkdown(s *Session) string {
	var b strings.Builder

	title := s.Title
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if s.ProjectPath != "" {
		fmt.Fprintf(&b, "Project: `%s`\n\n", s.ProjectPath)
	}

	for _, m := range s.History {
		if m.Role == RoleAssistant && !m.IsActiveAttempt {
			continue
		}
		switch m.Role {
		case RoleUser:
			b.WriteString("## You\n\n")
		case RoleAssistant:
			b.WriteString("## Assistant\n\n")
		case RoleSystem:
			b.WriteString("## System\n\n")
		}
		b.WriteString(strings.TrimRight(m.Text, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}
