// Package turns tracks which party holds the conversational floor and
// decides when outbound agent audio must be suppressed.
//
// The machine is driven only by discrete events from the speech agent
// (speech start/stop boundaries), never by volume heuristics on raw audio:
// the agent already performs voice-activity detection server-side, and
// duplicating that client-side would double-detect and desynchronize state.
package turns

import "time"

// State is the current holder of the conversational floor.
type State int

const (
	// StateIdle means nobody is speaking; the session is listening.
	StateIdle State = iota
	// StateAgentSpeaking means synthesized agent audio is being forwarded.
	StateAgentSpeaking
	// StateUserSpeaking means the caller holds the floor.
	StateUserSpeaking
	// StateSuppressed means the caller interrupted mid-utterance and agent
	// output is being actively discarded. The machine passes through this
	// state so the flush side effects are ordered before the new user turn.
	StateSuppressed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAgentSpeaking:
		return "AGENT_SPEAKING"
	case StateUserSpeaking:
		return "USER_SPEAKING"
	case StateSuppressed:
		return "SUPPRESSED"
	default:
		return "UNKNOWN"
	}
}

// EventKind identifies a turn-boundary event.
type EventKind int

const (
	// EventAgentStarted fires when the agent begins speaking.
	EventAgentStarted EventKind = iota
	// EventAgentFinished fires when the agent completes an utterance.
	EventAgentFinished
	// EventUserStarted fires when the agent service detects caller speech.
	EventUserStarted
	// EventUserStopped fires on end of utterance: an explicit end-of-turn
	// signal, the silence threshold, or the max-utterance cap.
	EventUserStopped
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventAgentStarted:
		return "agent_started"
	case EventAgentFinished:
		return "agent_finished"
	case EventUserStarted:
		return "user_started"
	case EventUserStopped:
		return "user_stopped"
	default:
		return "unknown"
	}
}

// Event is one tagged turn-boundary occurrence.
type Event struct {
	Kind EventKind
	At   time.Time
	// Forced marks an EventUserStopped produced by the max-utterance cap
	// rather than silence or an explicit end-of-turn signal.
	Forced bool
}

// Effect is a side effect the session must execute for a transition.
// The machine itself performs no I/O; it only returns effects in order.
type Effect int

const (
	// EffectStopOutbound stops forwarding agent audio for the current utterance.
	EffectStopOutbound Effect = iota
	// EffectFlushCarrier sends the clear control message so audio already
	// buffered downstream is truncated.
	EffectFlushCarrier
	// EffectMarkTruncated records the interrupted agent turn as incomplete
	// in conversation memory (truncated, not deleted).
	EffectMarkTruncated
	// EffectStartEndpointing arms the silence and max-utterance timers.
	EffectStartEndpointing
	// EffectStopEndpointing disarms the endpointing timers.
	EffectStopEndpointing
)

// String returns a human-readable effect name.
func (e Effect) String() string {
	switch e {
	case EffectStopOutbound:
		return "stop_outbound"
	case EffectFlushCarrier:
		return "flush_carrier"
	case EffectMarkTruncated:
		return "mark_truncated"
	case EffectStartEndpointing:
		return "start_endpointing"
	case EffectStopEndpointing:
		return "stop_endpointing"
	default:
		return "unknown"
	}
}

// Transition describes the outcome of applying one event.
type Transition struct {
	From State
	// Via is set when the machine passed through an intermediate state
	// (barge-in goes AgentSpeaking → Suppressed → UserSpeaking in one step).
	Via     State
	To      State
	Effects []Effect
	// Ignored is true when the event has no effect in the current state.
	// Every event has a defined outcome in every state; nothing is dropped
	// silently.
	Ignored bool
	Note    string
}

// BargeIn reports whether this transition was a caller interruption of
// agent speech.
func (t Transition) BargeIn() bool {
	return t.From == StateAgentSpeaking && t.Via == StateSuppressed
}
