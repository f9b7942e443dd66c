// Package memory maintains bounded conversational context for one call:
// a window of recent turns, a rolling summary of everything older, and the
// latest caller-confirmed slot values.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	// RoleCaller is the person on the phone.
	RoleCaller Role = "caller"
	// RoleAgent is the voice assistant.
	RoleAgent Role = "agent"
	// RoleFunction records a business-logic result relayed mid-conversation.
	RoleFunction Role = "function"
)

// Turn is one utterance. Immutable once appended, except that an agent turn
// interrupted by barge-in is marked truncated (never deleted).
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Context is the snapshot handed to the speech agent: rolling summary,
// recent turns, and canonical slot values.
type Context struct {
	Summary string
	Turns   []Turn
	Slots   map[string]string
}

// Summarizer compresses older turns into a rolling summary. The previous
// summary is folded in so the result stays a single bounded text.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, turns []Turn) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, previous string, turns []Turn) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, previous string, turns []Turn) (string, error) {
	return f(ctx, previous, turns)
}

// Config bounds the live window.
type Config struct {
	// MaxTurns is the largest number of live turns before compression.
	MaxTurns int `yaml:"max_turns"`
	// RetainTail is how many recent turns survive a compression.
	RetainTail int `yaml:"retain_tail"`
	// MaxChars is an estimated size budget for the live window; exceeding
	// it triggers compression even below MaxTurns. Zero disables it.
	MaxChars int `yaml:"max_chars"`
}

// DefaultConfig returns the standard window bounds.
func DefaultConfig() Config {
	return Config{MaxTurns: 15, RetainTail: 5, MaxChars: 6000}
}

func (c *Config) normalize() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 15
	}
	if c.RetainTail <= 0 || c.RetainTail >= c.MaxTurns {
		c.RetainTail = 5
		if c.RetainTail >= c.MaxTurns {
			c.RetainTail = c.MaxTurns / 2
		}
	}
}

// Manager owns one call's conversation memory. All methods are safe for
// concurrent use; compression happens synchronously inside Context so a
// stale oversized context is never handed out.
type Manager struct {
	cfg        Config
	summarizer Summarizer

	mu      sync.Mutex
	turns   []Turn
	all     []Turn
	summary string
	slots   map[string]string
}

// NewManager creates a manager with the given bounds and summarizer.
// A nil summarizer falls back to cheap extractive compression.
func NewManager(cfg Config, s Summarizer) *Manager {
	cfg.normalize()
	if s == nil {
		s = ExtractiveSummarizer{}
	}
	return &Manager{cfg: cfg, summarizer: s, slots: make(map[string]string)}
}

// Append adds one turn to the live window and the full transcript.
func (m *Manager) Append(t Turn) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	m.all = append(m.all, t)
}

// MarkLastAgentTruncated marks the most recent agent turn as interrupted.
// The text stays in the transcript; only the flag changes.
func (m *Manager) MarkLastAgentTruncated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == RoleAgent {
			m.turns[i].Truncated = true
			break
		}
	}
	for i := len(m.all) - 1; i >= 0; i-- {
		if m.all[i].Role == RoleAgent {
			m.all[i].Truncated = true
			break
		}
	}
}

// SetSlot records the latest caller-confirmed value for a canonical field.
// Last write wins; a correction simply overwrites.
func (m *Manager) SetSlot(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = value
}

// Slot returns the current value for a slot.
func (m *Manager) Slot(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.slots[key]
	return v, ok
}

// RecordFunctionResult appends a compact record of a business-logic result
// so the model keeps sight of what already happened.
func (m *Manager) RecordFunctionResult(name string, ok bool, detail string) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.Append(Turn{
		Role: RoleFunction,
		Text: fmt.Sprintf("%s %s: %s", name, status, strings.TrimSpace(detail)),
	})
}

// Context returns the bounded context snapshot. If the live window exceeds
// its budget the oldest turns beyond the retained tail are compressed first,
// so the returned window never exceeds the configured bounds.
func (m *Manager) Context(ctx context.Context) Context {
	m.mu.Lock()
	needs := m.overBudgetLocked()
	var (
		previous string
		old      []Turn
	)
	if needs {
		cut := len(m.turns) - m.cfg.RetainTail
		old = make([]Turn, cut)
		copy(old, m.turns[:cut])
		previous = m.summary
	}
	m.mu.Unlock()

	if needs {
		summary, err := m.summarizer.Summarize(ctx, previous, old)
		if err != nil || strings.TrimSpace(summary) == "" {
			// Never hand out an oversized context: degrade to extractive
			// compression instead of keeping the turns live.
			summary, _ = ExtractiveSummarizer{}.Summarize(ctx, previous, old)
		}
		m.mu.Lock()
		// Re-check under lock; turns may have arrived during summarization.
		if cut := len(m.turns) - m.cfg.RetainTail; cut >= len(old) {
			m.turns = append([]Turn(nil), m.turns[len(old):]...)
			m.summary = summary
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := Context{
		Summary: m.summary,
		Turns:   append([]Turn(nil), m.turns...),
		Slots:   make(map[string]string, len(m.slots)),
	}
	for k, v := range m.slots {
		out.Slots[k] = v
	}
	return out
}

// Transcript returns the full ordered transcript for persistence.
func (m *Manager) Transcript() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.all...)
}

// Slots returns a copy of the current slot values.
func (m *Manager) Slots() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.slots))
	for k, v := range m.slots {
		out[k] = v
	}
	return out
}

func (m *Manager) overBudgetLocked() bool {
	if len(m.turns) <= m.cfg.RetainTail {
		return false
	}
	if len(m.turns) > m.cfg.MaxTurns {
		return true
	}
	if m.cfg.MaxChars > 0 {
		total := 0
		for _, t := range m.turns {
			total += len(t.Text)
		}
		if total > m.cfg.MaxChars {
			return true
		}
	}
	return false
}
