package memory

import (
	"context"
	"strings"
)

// ExtractiveSummarizer is the deterministic fallback when no model-backed
// summarizer is configured or the summarization call fails: it keeps the
// first clause of each turn, prefixed by role, folded onto the previous
// summary. Crude, but bounded and always available.
type ExtractiveSummarizer struct {
	// MaxChars caps the produced summary. Zero means 2000.
	MaxChars int
}

// Summarize implements Summarizer.
func (s ExtractiveSummarizer) Summarize(_ context.Context, previous string, turns []Turn) (string, error) {
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	var b strings.Builder
	if prev := strings.TrimSpace(previous); prev != "" {
		b.WriteString(prev)
	}
	for _, t := range turns {
		line := firstClause(t.Text)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(line)
		if !strings.HasSuffix(line, ".") {
			b.WriteString(".")
		}
	}

	out := b.String()
	if len(out) > maxChars {
		out = out[len(out)-maxChars:]
		if idx := strings.Index(out, " "); idx > 0 {
			out = out[idx+1:]
		}
	}
	return out, nil
}

// firstClause returns the text up to the first sentence boundary.
func firstClause(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		return strings.TrimSpace(text[:idx+1])
	}
	return text
}
