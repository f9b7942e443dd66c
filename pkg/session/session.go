// Package session runs the lifecycle of one telephone call: carrier stream
// on one side, speech agent on the other, turn-taking and function dispatch
// in between, and exactly one persisted call record at the end.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/agent"
	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/carrier"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/logging"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/metrics"
	"github.com/frontdesk-ai/frontdesk/pkg/resilience"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
	"github.com/frontdesk-ai/frontdesk/pkg/turns"
)

// Phase is the coarse lifecycle of a session.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseActive     Phase = "active"
	PhaseFinalizing Phase = "finalizing"
	PhaseClosed     Phase = "closed"
)

// endpointTick is how often the local endpointing fallback is polled.
const endpointTick = 100 * time.Millisecond

// voiceEnergyFloor is the normalized RMS level below which an inbound frame
// counts as silence. Carriers stream frames continuously, so frame arrival
// alone cannot feed the endpointer.
const voiceEnergyFloor = 0.015

// finalizeGrace bounds how long finalization waits for in-flight function
// calls before writing the record anyway.
const finalizeGrace = 2 * time.Second

// Params carries everything a session needs. The gateway assembles it from
// config and the carrier's start message.
type Params struct {
	ID    string
	Start carrier.StartInfo

	Carrier *carrier.Conn
	Dialer  agent.Dialer

	AgentFormat audio.Format
	ChunkMS     int

	Greeting    string
	System      string
	Tools       []dispatch.ToolSchema
	Endpointing agent.Endpointing
	BargeIn     float64

	TransferNumber string

	Dispatcher *dispatch.Dispatcher
	Memory     *memory.Manager
	Supervisor *resilience.Supervisor

	Store   *store.DB
	Metrics *metrics.Metrics
	Log     *logging.Logger
}

// Session bridges one live call.
type Session struct {
	p         Params
	log       *logging.Logger
	machine   *turns.Machine
	endpoint  *turns.Endpointer
	transcode *audio.Transcoder

	startedAt time.Time

	agentMu sync.Mutex
	agent   *agent.Conn

	mu          sync.Mutex
	phase       Phase
	linkUp      bool
	transferred bool
	apptRef     string
	seen        map[string]struct{}
	inSeq       int64
	outSeq      int64

	dispatchWG  sync.WaitGroup
	finalizeOne sync.Once
	finalizeErr error
}

// Snapshot is the live view served on the operator surface.
type Snapshot struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Caller    string    `json:"caller"`
	StartedAt time.Time `json:"started_at"`
	Phase     Phase     `json:"phase"`
	TurnState string    `json:"turn_state"`
	BargeIns  int64     `json:"barge_ins"`
}

// New assembles a session. Run must be called exactly once.
func New(p Params) (*Session, error) {
	if p.Carrier == nil {
		return nil, errors.New("session: carrier connection is required")
	}
	if p.Dispatcher == nil || p.Memory == nil || p.Supervisor == nil {
		return nil, errors.New("session: dispatcher, memory and supervisor are required")
	}
	if p.Log == nil {
		p.Log = logging.Nop()
	}
	tc, err := audio.NewTranscoder(p.Start.Format, p.AgentFormat, p.ChunkMS)
	if err != nil {
		return nil, err
	}
	return &Session{
		p:       p,
		log:     p.Log.Sub("session").With("call_id", p.Start.CallID),
		machine: turns.NewMachine(),
		endpoint: turns.NewEndpointer(
			time.Duration(p.Endpointing.SilenceMS)*time.Millisecond,
			time.Duration(p.Endpointing.MaxUtteranceMS)*time.Millisecond,
		),
		transcode: tc,
		startedAt: time.Now().UTC(),
		phase:     PhaseStarting,
		seen:      make(map[string]struct{}),
	}, nil
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Snapshot returns the live view of this session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	return Snapshot{
		ID:        s.p.ID,
		CallID:    s.p.Start.CallID,
		Caller:    s.p.Start.Caller,
		StartedAt: s.startedAt,
		Phase:     phase,
		TurnState: s.machine.State().String(),
		BargeIns:  s.machine.BargeIns(),
	}
}

// RequestTransfer implements the handler-side transfer hook: it flags the
// outcome and asks the carrier to connect the configured human destination.
func (s *Session) RequestTransfer(reason string) {
	s.mu.Lock()
	already := s.transferred
	s.transferred = true
	s.mu.Unlock()
	if already {
		return
	}
	s.log.Info().Str("reason", reason).Msg("transferring caller to human")
	if err := s.p.Carrier.SendTransfer(s.p.TransferNumber); err != nil {
		s.log.Warn().Err(err).Msg("transfer request failed")
	}
}

// event is one tagged occurrence from either link.
type event struct {
	carrierMsg any
	agentEv    any
	agentDown  error
	carrierErr error
}

// Run drives the call until the carrier hangs up, the context ends, or the
// bridge degrades beyond recovery. It always finalizes exactly once.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.p.Metrics.ActiveCalls.Inc()
	defer s.p.Metrics.ActiveCalls.Dec()

	if err := s.dialAgent(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial agent connection failed")
		s.finalize(ctx, store.OutcomeFailed)
		return s.finalizeErr
	}
	s.setLinkUp(true)
	s.setPhase(PhaseActive)
	s.log.Info().Str("caller", s.p.Start.Caller).Msg("call session active")

	events := make(chan event, 64)
	go s.carrierLoop(ctx, events)
	go s.agentLoop(ctx, events)

	ticker := time.NewTicker(endpointTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown must not overwrite what actually happened: a booked
			// or transferred call keeps its outcome.
			s.finalize(ctx, s.resolveOutcome())
			return s.finalizeErr

		case <-ticker.C:
			s.checkEndpoint()

		case ev := <-events:
			switch {
			case ev.carrierErr != nil:
				// Carrier gone means the call is physically over.
				s.log.Info().Err(ev.carrierErr).Msg("carrier stream ended")
				s.finalize(ctx, s.resolveOutcome())
				return s.finalizeErr

			case ev.agentDown != nil:
				s.log.Error().Err(ev.agentDown).Msg("agent link lost for good")
				s.degrade()
				s.finalize(ctx, s.resolveOutcome())
				return s.finalizeErr

			case ev.carrierMsg != nil:
				if stop, ok := ev.carrierMsg.(carrier.Stop); ok {
					s.log.Info().Str("reason", stop.Reason).Msg("carrier stopped the call")
					s.finalize(ctx, s.resolveOutcome())
					return s.finalizeErr
				}
				s.handleCarrier(ctx, ev.carrierMsg)

			case ev.agentEv != nil:
				s.handleAgent(ctx, ev.agentEv)
			}
		}
	}
}

// dialAgent opens a fresh agent connection and sends setup, seeded with the
// conversation so far so a reconnect never restarts the call from zero.
func (s *Session) dialAgent(ctx context.Context) error {
	conn, err := s.p.Dialer.Dial(ctx)
	if err != nil {
		return err
	}
	err = conn.SendSetup(agent.Setup{
		CallID:      s.p.Start.CallID,
		AudioIn:     s.p.AgentFormat,
		AudioOut:    s.p.AgentFormat,
		System:      s.p.System,
		Greeting:    s.p.Greeting,
		Tools:       s.p.Tools,
		Context:     conversationContext(s.p.Memory.Context(ctx)),
		Endpointing: s.p.Endpointing,
		BargeIn:     agent.BargeIn{Sensitivity: s.p.BargeIn},
	})
	if err != nil {
		conn.Close()
		return err
	}
	s.agentMu.Lock()
	if s.agent != nil {
		s.agent.Close()
	}
	s.agent = conn
	s.agentMu.Unlock()
	return nil
}

// conversationContext converts the memory snapshot into the setup payload.
// Returns nil when nothing has happened yet, keeping the first setup lean.
func conversationContext(mem memory.Context) *agent.ConversationContext {
	if mem.Summary == "" && len(mem.Turns) == 0 && len(mem.Slots) == 0 {
		return nil
	}
	out := &agent.ConversationContext{Summary: mem.Summary, Slots: mem.Slots}
	for _, t := range mem.Turns {
		out.Turns = append(out.Turns, agent.ContextTurn{
			Role:      string(t.Role),
			Text:      t.Text,
			Truncated: t.Truncated,
		})
	}
	return out
}

// linkRestored is queued into the event loop after a successful reconnect so
// the held-audio flush runs on the same goroutine as all other transcoding.
type linkRestored struct{}

func (s *Session) setLinkUp(up bool) {
	s.mu.Lock()
	s.linkUp = up
	s.mu.Unlock()
}

// LinkUp reports whether the agent connection is currently usable.
func (s *Session) LinkUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkUp
}

func (s *Session) currentAgent() *agent.Conn {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.agent
}

// carrierLoop reads the carrier stream. Malformed frames are logged and
// dropped; a read error ends the call.
func (s *Session) carrierLoop(ctx context.Context, events chan<- event) {
	for {
		msg, err := s.p.Carrier.Read()
		if err != nil {
			var de *carrier.DecodeError
			if errors.As(err, &de) {
				s.log.Warn().Str("code", de.Code).Str("param", de.Param).Msg("dropping bad carrier frame")
				continue
			}
			select {
			case events <- event{carrierErr: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case events <- event{carrierMsg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// agentLoop reads agent events, reconnecting through the supervisor when the
// link drops. It exits once reconnection is exhausted or the session ends.
func (s *Session) agentLoop(ctx context.Context, events chan<- event) {
	for {
		conn := s.currentAgent()
		if conn == nil {
			return
		}
		ev, err := conn.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var de *agent.DecodeError
			if errors.As(err, &de) {
				s.log.Warn().Str("code", de.Code).Str("param", de.Param).Msg("dropping bad agent event")
				continue
			}
			s.setLinkUp(false)
			if rerr := s.p.Supervisor.Reconnect(ctx, s.dialAgent); rerr != nil {
				select {
				case events <- event{agentDown: rerr}:
				case <-ctx.Done():
				}
				return
			}
			s.p.Metrics.AgentReconnects.Inc()
			select {
			case events <- event{agentEv: linkRestored{}}:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case events <- event{agentEv: ev}:
		case <-ctx.Done():
			return
		}
	}
}

// flushHeld drains audio buffered while the link was down, in arrival order.
func (s *Session) flushHeld() {
	held := s.p.Supervisor.DrainHeld()
	for _, frame := range held {
		s.forwardInbound(frame)
	}
	if n := len(held); n > 0 {
		s.log.Info().Int("frames", n).Msg("flushed held audio after reconnect")
	}
	s.setLinkUp(true)
}

// forwardInbound transcodes one carrier frame and ships resulting chunks to
// the agent.
func (s *Session) forwardInbound(frame []byte) {
	data, err := s.transcode.ToAgentFormat(frame)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping unreadable inbound frame")
		return
	}
	conn := s.currentAgent()
	if conn == nil {
		return
	}
	for _, d := range data {
		s.mu.Lock()
		s.inSeq++
		c := audio.Chunk{Seq: s.inSeq, Direction: audio.DirectionInbound, At: time.Now(), Data: d}
		s.mu.Unlock()
		if err := conn.SendAudio(c.Seq, base64.StdEncoding.EncodeToString(c.Data)); err != nil {
			s.log.Warn().Str("direction", c.Direction.String()).Err(err).Msg("audio send failed")
			return
		}
	}
}

// outboundChunk stamps one carrier-bound frame with its sequence number.
func (s *Session) outboundChunk(data []byte) audio.Chunk {
	s.mu.Lock()
	s.outSeq++
	c := audio.Chunk{Seq: s.outSeq, Direction: audio.DirectionOutbound, At: time.Now(), Data: data}
	s.mu.Unlock()
	return c
}

// degrade is the last resort once the agent link cannot come back: hand the
// caller to a human if a destination is configured.
func (s *Session) degrade() {
	if s.p.TransferNumber != "" {
		s.RequestTransfer("assistant unavailable")
	}
}
