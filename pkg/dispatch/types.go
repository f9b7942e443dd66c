// Package dispatch executes business-logic function calls requested by the
// speech agent mid-conversation: per-session registry, bounded worker pool,
// bounded timeouts, and exactly one result per correlation id.
package dispatch

import (
	"context"
	"time"
)

// Request is one function call from the speech agent.
type Request struct {
	CallID        string         `json:"call_id"`
	Name          string         `json:"name"`
	Args          map[string]any `json:"args"`
	CorrelationID string         `json:"correlation_id"`
}

// Result is the single response for a request's correlation id. Failure
// messages are caller-safe: the agent relays Message verbatim to the
// caller, so it must never contain raw error detail.
type Result struct {
	CorrelationID string         `json:"correlation_id"`
	OK            bool           `json:"ok"`
	Payload       map[string]any `json:"payload,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// Error codes carried on failed results.
const (
	CodeUnknownFunction = "unknown_function"
	CodeTimeout         = "timeout"
	CodeBusy            = "busy"
	CodeHandlerError    = "handler_error"
	CodeDegraded        = "degraded"
	CodeCanceled        = "canceled"
)

// Caller-safe messages the agent can speak while things go wrong.
const (
	MsgTimeout     = "Let me check on that for you, one moment."
	MsgUnavailable = "I'm having a little trouble reaching our scheduling system. Bear with me."
	MsgDegraded    = "I'm sorry, our system is having trouble right now. I can take a message, or transfer you to the front desk."
)

// ParamSpec describes one typed function parameter for the agent's tool
// schema.
type ParamSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// Definition declares one callable function: schema plus execution bounds.
// Definitions are configuration data, not code; adding a business operation
// means adding a definition and pointing it at a handler kind.
type Definition struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Handler     string        `yaml:"handler"`
	Params      []ParamSpec   `yaml:"params"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ToolSchema is the shape declared to the speech agent at session start.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
}

// Handler executes one business operation. Implementations must be
// idempotent with respect to repeated correlation ids: a timed-out call may
// still complete downstream after the dispatcher has already answered.
type Handler interface {
	Invoke(ctx context.Context, req Request) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (map[string]any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}
