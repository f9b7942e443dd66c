// Package agent speaks the streaming protocol of the cloud speech-and-
// reasoning service: one bidirectional websocket per call, a configuration
// message up front, then audio, transcripts, turn boundaries, and function
// calls flowing both ways.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
)

// DecodeError reports an event frame the bridge could not interpret.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badEvent(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_event", Message: message, Param: param}
}

// Endpointing declares the turn-boundary thresholds the agent should use.
type Endpointing struct {
	SilenceMS      int `json:"silence_ms"`
	MaxUtteranceMS int `json:"max_utterance_ms"`
}

// BargeIn declares interruption sensitivity.
type BargeIn struct {
	// Sensitivity ranges 0.0 (never interrupt) to 1.0 (hair trigger).
	Sensitivity float64 `json:"sensitivity"`
}

// ContextTurn is one prior utterance replayed on setup.
type ContextTurn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ConversationContext seeds a fresh agent session with what has already been
// said: the rolling summary, the recent turns, and confirmed slot values.
// Without it a re-dialed link would restart the conversation from zero.
type ConversationContext struct {
	Summary string            `json:"summary,omitempty"`
	Turns   []ContextTurn     `json:"turns,omitempty"`
	Slots   map[string]string `json:"slots,omitempty"`
}

// Setup is the initial configuration message: audio formats, available
// functions, behavioral parameters, and any existing conversation context.
type Setup struct {
	Type        string                `json:"type"`
	CallID      string                `json:"call_id"`
	AudioIn     audio.Format          `json:"audio_in"`
	AudioOut    audio.Format          `json:"audio_out"`
	System      string                `json:"system,omitempty"`
	Greeting    string                `json:"greeting,omitempty"`
	Tools       []dispatch.ToolSchema `json:"tools,omitempty"`
	Context     *ConversationContext  `json:"context,omitempty"`
	Endpointing Endpointing           `json:"endpointing"`
	BargeIn     BargeIn               `json:"barge_in"`
}

// AudioAppend carries caller audio to the agent.
type AudioAppend struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// FunctionResultMsg returns a dispatch result on the agent connection.
type FunctionResultMsg struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlation_id"`
	OK            bool           `json:"ok"`
	Payload       map[string]any `json:"payload,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// SessionClose asks the agent to end the session cleanly.
type SessionClose struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Server events.

// SessionCreated acknowledges the setup message.
type SessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// TranscriptDelta is incremental transcription of either party.
type TranscriptDelta struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// UserSpeechStarted is the agent-side voice-activity signal that the caller
// began speaking. During agent speech this is the barge-in trigger.
type UserSpeechStarted struct {
	Type string `json:"type"`
}

// UserSpeechStopped signals end of the caller's utterance.
type UserSpeechStopped struct {
	Type   string `json:"type"`
	Forced bool   `json:"forced,omitempty"`
}

// AgentSpeechStarted signals the agent began a synthesized utterance.
type AgentSpeechStarted struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AgentSpeechDone signals the agent finished the utterance.
type AgentSpeechDone struct {
	Type string `json:"type"`
}

// AudioDelta is one synthesized audio chunk for the caller.
type AudioDelta struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// FunctionCall asks the bridge to perform a named business operation.
type FunctionCall struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlation_id"`
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

// SlotUpdate reports a canonical field value the agent extracted and the
// caller confirmed.
type SlotUpdate struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ErrorEvent reports an agent-side failure.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEvent parses one inbound agent frame into its typed event.
func DecodeEvent(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badEvent("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badEvent("missing type", "type")
	}

	switch typ {
	case "session.created":
		var ev SessionCreated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid session.created", "")
		}
		return ev, nil
	case "transcript.delta":
		var ev TranscriptDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid transcript.delta", "")
		}
		switch ev.Role {
		case "caller", "agent":
		default:
			return nil, badEvent("transcript.delta.role must be caller or agent", "role")
		}
		return ev, nil
	case "user.speech_started":
		return UserSpeechStarted{Type: typ}, nil
	case "user.speech_stopped":
		var ev UserSpeechStopped
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid user.speech_stopped", "")
		}
		return ev, nil
	case "agent.speech_started":
		var ev AgentSpeechStarted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid agent.speech_started", "")
		}
		return ev, nil
	case "agent.speech_done":
		return AgentSpeechDone{Type: typ}, nil
	case "audio.delta":
		var ev AudioDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid audio.delta", "")
		}
		if strings.TrimSpace(ev.DataB64) == "" {
			return nil, badEvent("audio.delta.data_b64 is required", "data_b64")
		}
		return ev, nil
	case "function.call":
		var ev FunctionCall
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid function.call", "")
		}
		if strings.TrimSpace(ev.CorrelationID) == "" {
			return nil, badEvent("function.call.correlation_id is required", "correlation_id")
		}
		if strings.TrimSpace(ev.Name) == "" {
			return nil, badEvent("function.call.name is required", "name")
		}
		return ev, nil
	case "slot.update":
		var ev SlotUpdate
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid slot.update", "")
		}
		if strings.TrimSpace(ev.Key) == "" {
			return nil, badEvent("slot.update.key is required", "key")
		}
		return ev, nil
	case "error":
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badEvent("invalid error", "")
		}
		return ev, nil
	default:
		return nil, badEvent("unsupported event type", "type")
	}
}
