package turns

import "sync"

// Machine owns the TurnState for one call. Exactly one session owns one
// machine; Apply is the only mutation path.
type Machine struct {
	mu       sync.Mutex
	state    State
	bargeIns int64
}

// NewMachine creates a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current turn state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ForwardOutbound reports whether agent audio may be forwarded to the
// carrier right now. Only one outbound source can ever be active: outside
// AgentSpeaking every synthesized chunk is discarded.
func (m *Machine) ForwardOutbound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAgentSpeaking
}

// BargeIns returns how many caller interruptions have occurred.
func (m *Machine) BargeIns() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bargeIns
}

// Apply advances the machine by one event and returns the transition,
// including ordered side effects for the session to execute. The table is
// total: every event kind has a defined outcome in every state.
func (m *Machine) Apply(ev Event) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	tr := Transition{From: from, To: from}

	switch from {
	case StateIdle:
		switch ev.Kind {
		case EventAgentStarted:
			tr.To = StateAgentSpeaking
		case EventUserStarted:
			tr.To = StateUserSpeaking
			tr.Effects = []Effect{EffectStartEndpointing}
		case EventAgentFinished:
			tr.Ignored = true
			tr.Note = "no agent utterance in progress"
		case EventUserStopped:
			tr.Ignored = true
			tr.Note = "no user utterance in progress"
		}

	case StateAgentSpeaking:
		switch ev.Kind {
		case EventAgentStarted:
			tr.Ignored = true
			tr.Note = "agent already speaking"
		case EventAgentFinished:
			tr.To = StateIdle
		case EventUserStarted:
			// Barge-in. Suppression effects are ordered before the new
			// user turn begins so the flush is idempotent and precedes
			// any treatment of inbound audio as a fresh utterance.
			m.bargeIns++
			tr.Via = StateSuppressed
			tr.To = StateUserSpeaking
			tr.Effects = []Effect{
				EffectStopOutbound,
				EffectFlushCarrier,
				EffectMarkTruncated,
				EffectStartEndpointing,
			}
		case EventUserStopped:
			tr.Ignored = true
			tr.Note = "stale user stop during agent speech"
		}

	case StateUserSpeaking:
		switch ev.Kind {
		case EventAgentStarted:
			// The agent replying is an implicit end of the user turn.
			tr.To = StateAgentSpeaking
			tr.Effects = []Effect{EffectStopEndpointing}
			tr.Note = "implicit end of user turn"
		case EventAgentFinished:
			tr.Ignored = true
			tr.Note = "no agent utterance in progress"
		case EventUserStarted:
			tr.Ignored = true
			tr.Note = "caller already holds the floor"
		case EventUserStopped:
			tr.To = StateIdle
			tr.Effects = []Effect{EffectStopEndpointing}
		}

	case StateSuppressed:
		// The machine never rests here (barge-in lands in UserSpeaking in
		// the same Apply call), but the table stays total regardless.
		switch ev.Kind {
		case EventAgentStarted:
			tr.To = StateAgentSpeaking
		case EventAgentFinished:
			tr.To = StateUserSpeaking
			tr.Note = "suppressed utterance drained"
		case EventUserStarted:
			tr.To = StateUserSpeaking
			tr.Effects = []Effect{EffectStartEndpointing}
		case EventUserStopped:
			tr.To = StateIdle
			tr.Effects = []Effect{EffectStopEndpointing}
		}
	}

	m.state = tr.To
	return tr
}
