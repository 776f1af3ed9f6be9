package event

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Rendering budgets for the transcript encoding. The structured encoding is
// lossless; these apply to the human-readable form only.
const (
	transcriptArgsLimit   = 200
	transcriptOutputLimit = 1500
)

// NDJSONWriter emits one self-describing JSON object per line. It preserves
// every field of every event.
type NDJSONWriter struct {
	enc *json.Encoder
}

// NewNDJSONWriter constructs an NDJSONWriter over w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

// Write encodes a single event followed by a newline.
func (w *NDJSONWriter) Write(ev WireEvent) error {
	return w.enc.Encode(ev)
}

// TranscriptWriter renders the same normalized stream as a markdown-oriented
// human transcript. Chunk flushes become inline running text; structured
// calls and results become labeled lines and fenced blocks.
type TranscriptWriter struct {
	w       io.Writer
	running bool
}

// NewTranscriptWriter constructs a TranscriptWriter over w.
func NewTranscriptWriter(w io.Writer) *TranscriptWriter {
	return &TranscriptWriter{w: w}
}

// Write renders a single event.
func (t *TranscriptWriter) Write(ev WireEvent) error {
	switch ev.Type {
	case TypeChunk:
		if !t.running {
			if err := t.printf("\n**%s**: ", ev.Agent); err != nil {
				return err
			}
			t.running = true
		}
		return t.printf("%s", ev.Text)
	case TypeSession:
		return t.block("session `%s`\n", ev.ID)
	case TypeStatus:
		return t.block("> %s\n", ev.Text)
	case TypeRequest:
		return t.block("# Task\n\n%s\n", ev.Text)
	case TypeMessage:
		return t.block("- **%s**:\n%s\n", ev.Agent, indent(ev.Text))
	case TypeToolCall:
		var b strings.Builder
		for _, c := range ev.Calls {
			fmt.Fprintf(&b, "- **%s** → `%s` %s\n", ev.Agent, c.Name, truncate(c.Arguments, transcriptArgsLimit))
		}
		return t.block("%s", b.String())
	case TypeToolResult:
		var b strings.Builder
		for _, r := range ev.Results {
			fmt.Fprintf(&b, "- **%s** ← `%s`:\n\n```json\n%s\n```\n", ev.Agent, r.Name, prettyOutput(r.Output))
		}
		return t.block("%s", b.String())
	case TypeInputRequest:
		return t.block("- **input requested**: %s\n", ev.Prompt)
	case TypeEvent:
		return t.block("- [%s] %s: %s\n", ev.Name, ev.Agent, ev.Text)
	case TypeError:
		return t.block("**error**: %s\n", ev.Text)
	case TypeDone:
		return t.block("---\n")
	default:
		return t.block("- %s\n", ev.Type)
	}
}

// block terminates any inline chunk run before printing a standalone block.
func (t *TranscriptWriter) block(format string, args ...any) error {
	if t.running {
		if err := t.printf("\n\n"); err != nil {
			return err
		}
		t.running = false
	}
	return t.printf(format, args...)
}

func (t *TranscriptWriter) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(t.w, format, args...)
	return err
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return cutAtRune(s, limit) + "…"
}

// cutAtRune cuts s at limit bytes, backing up so a multi-byte rune is never
// split.
func cutAtRune(s string, limit int) string {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func prettyOutput(output any) string {
	var text string
	switch v := output.(type) {
	case string:
		text = v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(data)
		}
	}
	if len(text) > transcriptOutputLimit {
		return cutAtRune(text, transcriptOutputLimit) + "\n(truncated)"
	}
	return text
}
