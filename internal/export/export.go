// Package export renders a thread transcript as Markdown, JSON or HTML.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/yuin/goldmark"
)

// Format is an export file format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown", "":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// Document is the JSON export shape.
type Document struct {
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// Write renders thread and msgs to w in the given format.
func Write(w io.Writer, format Format, thread models.Thread, msgs []models.Message) error {
	switch format {
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(thread, msgs))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(Document{Thread: thread, Messages: models.CloneMessages(msgs)})
	case FormatHTML:
		return writeHTML(w, thread, msgs)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

// Markdown renders the transcript as a Markdown document with one section
// per message.
func Markdown(thread models.Thread, msgs []models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", thread.Title)
	if !thread.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "_Started %s_\n\n", thread.CreatedAt.Format("2006-01-02 15:04"))
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", roleHeading(m.Role), strings.TrimSpace(m.Content))
	}
	return b.String()
}

func roleHeading(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "User"
	case models.RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

var page = template.Must(template.New("thread").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; }
.message { border-radius: 8px; padding: 0.5rem 1rem; margin: 1rem 0; }
.user { background: #eef4ff; }
.assistant { background: #f4f4f4; }
.role { font-size: 0.8rem; font-weight: 600; text-transform: uppercase; color: #666; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="message {{.Role}}">
<div class="role">{{.Role}}</div>
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type htmlMessage struct {
	Role string
	Body template.HTML
}

// writeHTML converts each message from Markdown with goldmark. Raw HTML in
// message content is omitted by goldmark's default renderer.
func writeHTML(w io.Writer, thread models.Thread, msgs []models.Message) error {
	data := struct {
		Title    string
		Messages []htmlMessage
	}{Title: thread.Title}

	for _, m := range msgs {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &buf); err != nil {
			return fmt.Errorf("convert message: %w", err)
		}
		data.Messages = append(data.Messages, htmlMessage{
			Role: string(m.Role),
			Body: template.HTML(buf.String()),
		})
	}
	return page.Execute(w, data)
}
