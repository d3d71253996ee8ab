package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() (models.Thread, []models.Message) {
	thread := models.Thread{
		ID:        "t1",
		Title:     "Capital of France",
		CreatedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	msgs := []models.Message{
		{ThreadID: "t1", Role: models.RoleUser, Content: "What is the capital of France?"},
		{ThreadID: "t1", Role: models.RoleAssistant, Content: "It is **Paris**.\n\n<script>alert(1)</script>"},
	}
	return thread, msgs
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"md", FormatMarkdown, false},
		{"Markdown", FormatMarkdown, false},
		{"", FormatMarkdown, false},
		{"json", FormatJSON, false},
		{"HTML", FormatHTML, false},
		{"pdf", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkdown(t *testing.T) {
	thread, msgs := sample()
	out := Markdown(thread, msgs)

	assert.Contains(t, out, "# Capital of France\n")
	assert.Contains(t, out, "_Started 2026-05-01 09:30_")
	assert.Contains(t, out, "## User\n\nWhat is the capital of France?")
	assert.Contains(t, out, "## Assistant\n\nIt is **Paris**.")
	assert.Less(t, bytes.Index([]byte(out), []byte("## User")), bytes.Index([]byte(out), []byte("## Assistant")))
}

func TestWriteJSON(t *testing.T) {
	thread, msgs := sample()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, thread, msgs))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "t1", doc.Thread.ID)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, models.RoleAssistant, doc.Messages[1].Role)
}

func TestWriteHTML(t *testing.T) {
	thread, msgs := sample()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatHTML, thread, msgs))

	out := buf.String()
	assert.Contains(t, out, "<title>Capital of France</title>")
	assert.Contains(t, out, "<strong>Paris</strong>")
	assert.Contains(t, out, `class="message user"`)
	assert.NotContains(t, out, "<script>alert(1)</script>")
}

func TestWriteEmptyThread(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, models.Thread{ID: "t", Title: models.DefaultTitle}, nil))
	assert.Contains(t, buf.String(), `"messages": []`)
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, Format("pdf"), models.Thread{}, nil)
	assert.Error(t, err)
}
