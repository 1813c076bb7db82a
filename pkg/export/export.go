// Package export renders conversation transcripts for use outside parley.
// The JSON and YAML exporters share one document schema; Markdown targets
// human readers.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"parley/pkg/chat"
)

// Transcript bundles a conversation's metadata with its messages.
type Transcript struct {
	Session  chat.Session
	Messages []chat.Message
}

// Exporter renders one transcript to a writer.
type Exporter interface {
	Export(t Transcript, w io.Writer) error
	Extension() string
}

// New returns the exporter for format.
func New(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// document is the output schema shared by the structured exporters. Field
// names stay stable across formats so downstream tooling can switch between
// them.
type document struct {
	Session  documentSession   `json:"session" yaml:"session"`
	Messages []documentMessage `json:"messages" yaml:"messages"`
}

type documentSession struct {
	ID           string          `json:"id" yaml:"id"`
	Title        string          `json:"title" yaml:"title"`
	Model        string          `json:"model" yaml:"model"`
	Pinned       bool            `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"updated_at"`
	MessageCount int             `json:"message_count" yaml:"message_count"`
	Tools        map[string]bool `json:"tools,omitempty" yaml:"tools,omitempty"`
}

type documentMessage struct {
	ID          string    `json:"id" yaml:"id"`
	Role        string    `json:"role" yaml:"role"`
	Content     string    `json:"content" yaml:"content"`
	Status      string    `json:"status" yaml:"status"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	TokenCount  int       `json:"token_count,omitempty" yaml:"token_count,omitempty"`
	Attachments []string  `json:"attachment_ids,omitempty" yaml:"attachment_ids,omitempty"`
}

func buildDocument(t Transcript) document {
	doc := document{
		Session: documentSession{
			ID:           t.Session.ID,
			Title:        t.Session.Title,
			Model:        t.Session.Model,
			Pinned:       t.Session.Pinned,
			CreatedAt:    t.Session.CreatedAt,
			UpdatedAt:    t.Session.UpdatedAt,
			MessageCount: len(t.Messages),
			Tools:        t.Session.ToolsEnabled,
		},
		Messages: make([]documentMessage, 0, len(t.Messages)),
	}
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, documentMessage{
			ID:          m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			Status:      string(m.Status),
			Timestamp:   m.Timestamp,
			Model:       m.Model,
			TokenCount:  m.TokenCount,
			Attachments: m.AttachmentIDs,
		})
	}
	return doc
}

// JSONExporter writes the transcript as pretty-printed JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(t Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildDocument(t))
}

func (e *JSONExporter) Extension() string { return "json" }

// YAMLExporter writes the transcript as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(t Transcript, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(buildDocument(t))
}

func (e *YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes the transcript as a readable Markdown page.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(t Transcript, w io.Writer) error {
	title := t.Session.Title
	if title == "" {
		title = t.Session.ID
	}
	_, _ = fmt.Fprintf(w, "# %s\n\n", title)
	_, _ = fmt.Fprintf(w, "**Conversation:** %s  \n", t.Session.ID)
	if t.Session.Model != "" {
		_, _ = fmt.Fprintf(w, "**Model:** %s  \n", t.Session.Model)
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(t.Messages))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, msg := range t.Messages {
		stamp := ""
		if !msg.Timestamp.IsZero() {
			stamp = fmt.Sprintf(" (%s)", msg.Timestamp.UTC().Format(time.RFC3339))
		}
		marker := ""
		if msg.Status == chat.StatusError {
			marker = " _(not delivered)_"
		}
		_, _ = fmt.Fprintf(w, "**%s:**%s%s\n\n%s\n\n", msg.Role, stamp, marker, escapeMarkdown(msg.Content))
		if i < len(t.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

func (e *MarkdownExporter) Extension() string { return "md" }

// escapeMarkdown neutralizes emphasis markers outside fenced code blocks so
// message text renders as written.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inCodeBlock := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			inCodeBlock = !inCodeBlock
		case !inCodeBlock:
			line = strings.ReplaceAll(line, "**", `\*\*`)
			line = strings.ReplaceAll(line, "__", `\_\_`)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
