package turns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(kind EventKind) Event {
	return Event{Kind: kind, At: time.Now()}
}

func TestMachineStartsIdle(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.ForwardOutbound())
}

func TestNormalExchange(t *testing.T) {
	m := NewMachine()

	tr := m.Apply(ev(EventUserStarted))
	assert.Equal(t, StateUserSpeaking, tr.To)
	assert.Equal(t, []Effect{EffectStartEndpointing}, tr.Effects)

	tr = m.Apply(ev(EventUserStopped))
	assert.Equal(t, StateIdle, tr.To)
	assert.Equal(t, []Effect{EffectStopEndpointing}, tr.Effects)

	tr = m.Apply(ev(EventAgentStarted))
	assert.Equal(t, StateAgentSpeaking, tr.To)
	assert.True(t, m.ForwardOutbound())

	tr = m.Apply(ev(EventAgentFinished))
	assert.Equal(t, StateIdle, tr.To)
	assert.False(t, m.ForwardOutbound())
}

func TestBargeIn(t *testing.T) {
	m := NewMachine()
	m.Apply(ev(EventAgentStarted))
	require.True(t, m.ForwardOutbound())

	tr := m.Apply(ev(EventUserStarted))
	assert.True(t, tr.BargeIn())
	assert.Equal(t, StateAgentSpeaking, tr.From)
	assert.Equal(t, StateSuppressed, tr.Via)
	assert.Equal(t, StateUserSpeaking, tr.To)
	assert.Equal(t, []Effect{
		EffectStopOutbound,
		EffectFlushCarrier,
		EffectMarkTruncated,
		EffectStartEndpointing,
	}, tr.Effects)
	assert.False(t, m.ForwardOutbound())
	assert.EqualValues(t, 1, m.BargeIns())
}

func TestImplicitEndOfUserTurn(t *testing.T) {
	m := NewMachine()
	m.Apply(ev(EventUserStarted))

	tr := m.Apply(ev(EventAgentStarted))
	assert.Equal(t, StateAgentSpeaking, tr.To)
	assert.Equal(t, []Effect{EffectStopEndpointing}, tr.Effects)
	assert.False(t, tr.Ignored)
}

func TestIgnoredEventsAreExplicit(t *testing.T) {
	m := NewMachine()

	tr := m.Apply(ev(EventAgentFinished))
	assert.True(t, tr.Ignored)
	assert.Equal(t, StateIdle, m.State())
	assert.NotEmpty(t, tr.Note)

	tr = m.Apply(ev(EventUserStopped))
	assert.True(t, tr.Ignored)

	m.Apply(ev(EventAgentStarted))
	tr = m.Apply(ev(EventAgentStarted))
	assert.True(t, tr.Ignored)
	assert.Equal(t, StateAgentSpeaking, m.State())

	tr = m.Apply(ev(EventUserStopped))
	assert.True(t, tr.Ignored, "stale user stop during agent speech")
}

func TestTableIsTotal(t *testing.T) {
	states := []State{StateIdle, StateAgentSpeaking, StateUserSpeaking, StateSuppressed}
	events := []EventKind{EventAgentStarted, EventAgentFinished, EventUserStarted, EventUserStopped}

	for _, s := range states {
		for _, k := range events {
			m := &Machine{state: s}
			tr := m.Apply(Event{Kind: k, At: time.Now()})
			// Every combination either transitions or is explicitly ignored.
			if tr.Ignored {
				assert.Equal(t, s, tr.To, "ignored event must not move state (%v + %v)", s, k)
			}
			assert.Contains(t, states, tr.To, "undefined target for %v + %v", s, k)
		}
	}
}

func TestDoubleBargeInCounts(t *testing.T) {
	m := NewMachine()
	for i := 0; i < 3; i++ {
		m.Apply(ev(EventAgentStarted)) // implicit end of user turn after the first pass
		m.Apply(ev(EventUserStarted))
	}
	assert.EqualValues(t, 3, m.BargeIns())
}

func TestEndpointerSilence(t *testing.T) {
	e := NewEndpointer(700*time.Millisecond, 9*time.Second)
	now := time.Unix(0, 0)
	e.SetClock(func() time.Time { return now })

	e.Begin()
	require.True(t, e.Active())

	now = now.Add(500 * time.Millisecond)
	fired, _ := e.Check()
	assert.False(t, fired)

	// Continued speech pushes the silence deadline back.
	e.Voice()
	now = now.Add(500 * time.Millisecond)
	fired, _ = e.Check()
	assert.False(t, fired)

	now = now.Add(300 * time.Millisecond)
	fired, forced := e.Check()
	assert.True(t, fired)
	assert.False(t, forced)
	assert.False(t, e.Active(), "a fired endpointer disarms")

	fired, _ = e.Check()
	assert.False(t, fired, "fires at most once per turn")
}

func TestEndpointerMaxUtterance(t *testing.T) {
	e := NewEndpointer(700*time.Millisecond, 9*time.Second)
	now := time.Unix(0, 0)
	e.SetClock(func() time.Time { return now })

	e.Begin()
	// Caller keeps talking; only the hard cap can end the turn.
	for i := 0; i < 18; i++ {
		now = now.Add(500 * time.Millisecond)
		e.Voice()
		fired, forced := e.Check()
		if fired {
			assert.True(t, forced)
			assert.GreaterOrEqual(t, now.Sub(time.Unix(0, 0)), 9*time.Second)
			return
		}
	}
	t.Fatal("max utterance cap never fired")
}

func TestEndpointerStopDisarms(t *testing.T) {
	e := NewEndpointer(0, 0) // defaults
	e.Begin()
	e.Stop()
	assert.False(t, e.Active())
	fired, _ := e.Check()
	assert.False(t, fired)
}
