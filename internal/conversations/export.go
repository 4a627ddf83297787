package conversations

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatPDF      Format = "pdf"
)

var (
	ErrUnknownFormat  = errors.New("unknown export format")
	ErrNotImplemented = errors.New("export format not implemented")
)

// ParseFormat accepts the canonical names plus the usual file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

type Export struct {
	Filename    string
	ContentType string
	Body        string
}

// Export renders the stored record id in the given format.
func (s *Store) Export(ctx context.Context, id string, format Format) (Export, error) {
	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return Export{}, err
	}
	if !ok {
		return Export{}, ErrNotFound
	}
	return Render(rec, format)
}

func Render(rec Record, format Format) (Export, error) {
	switch format {
	case FormatMarkdown:
		return Export{
			Filename:    fileStem(rec.Title) + ".md",
			ContentType: "text/markdown; charset=utf-8",
			Body:        RenderMarkdown(rec),
		}, nil
	case FormatText:
		return Export{
			Filename:    fileStem(rec.Title) + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Body:        RenderText(rec),
		}, nil
	case FormatPDF:
		return Export{}, ErrNotImplemented
	default:
		return Export{}, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}
}

func RenderMarkdown(rec Record) string {
	parts := make([]string, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		parts = append(parts, fmt.Sprintf("**%s (%s)**:\n%s\n", m.Role.Label(), m.SentAt, m.Content))
	}
	return "# " + rec.Title + "\n\n" + strings.Join(parts, "\n")
}

func RenderText(rec Record) string {
	parts := make([]string, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", m.Role.Label(), m.SentAt, m.Content))
	}
	return rec.Title + "\n\n" + strings.Join(parts, "\n\n")
}

var markdownHeading = regexp.MustCompile(`^\*\*(User|Assistant) \((.*)\)\*\*:$`)

// ParseMarkdown reads back the output of RenderMarkdown. Only the title and
// the messages are recovered; the record id and modification time are not
// part of the export.
func ParseMarkdown(doc string) (Record, error) {
	all := strings.Split(doc, "\n")
	if !strings.HasPrefix(all[0], "# ") {
		return Record{}, errors.New("markdown export: missing title line")
	}
	rec := Record{Title: strings.TrimPrefix(all[0], "# "), Messages: []Message{}}

	var (
		cur   *Message
		lines []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		// Each body is followed by one newline of its own; drop it.
		cur.Content = strings.TrimSuffix(strings.Join(lines, "\n"), "\n")
		rec.Messages = append(rec.Messages, *cur)
		cur, lines = nil, nil
	}

	for _, line := range all[1:] {
		if m := markdownHeading.FindStringSubmatch(line); m != nil {
			flush()
			role := RoleAssistant
			if m[1] == RoleUser.Label() {
				role = RoleUser
			}
			cur = &Message{Role: role, SentAt: m[2]}
			continue
		}
		if cur == nil {
			if line != "" {
				return Record{}, fmt.Errorf("markdown export: unexpected line %q before first message", line)
			}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return rec, nil
}

func fileStem(title string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if stem == "" {
		return "conversation"
	}
	return stem
}
