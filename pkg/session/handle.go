package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/agent"
	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/carrier"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/turns"
)

// handleCarrier processes one inbound carrier message. Stop is handled by
// the run loop before this is called.
func (s *Session) handleCarrier(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case carrier.Media:
		frame, err := base64.StdEncoding.DecodeString(m.Media.PayloadB64)
		if err != nil || len(frame) == 0 {
			s.log.Warn().Msg("dropping undecodable media payload")
			return
		}
		if s.machine.State() == turns.StateUserSpeaking &&
			audio.Energy(s.p.Start.Format, frame) >= voiceEnergyFloor {
			s.endpoint.Voice()
		}
		if s.p.Supervisor.Degraded() {
			return
		}
		if !s.LinkUp() || s.p.Supervisor.HeldFrames() > 0 {
			// Link down, or still catching up after a reconnect: hold in
			// arrival order rather than interleaving with the backlog.
			s.p.Supervisor.Hold(frame)
			return
		}
		s.forwardInbound(frame)

	case carrier.Mark:
		s.log.Debug().Str("name", m.Mark.Name).Msg("playback mark echoed")

	case carrier.Connected, carrier.Start:
		// Handled during session establishment; duplicates are harmless.

	default:
		s.log.Warn().Msg("unhandled carrier message")
	}
}

// handleAgent processes one inbound agent event.
func (s *Session) handleAgent(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case linkRestored:
		s.flushHeld()

	case agent.SessionCreated:
		s.log.Debug().Str("agent_session", e.SessionID).Msg("agent session created")

	case agent.TranscriptDelta:
		if !e.IsFinal {
			return
		}
		role := memory.RoleCaller
		if e.Role == "agent" {
			role = memory.RoleAgent
		}
		if role == memory.RoleCaller {
			s.p.Memory.Append(memory.Turn{Role: role, Text: e.Text})
		}

	case agent.UserSpeechStarted:
		s.applyTurn(turns.Event{Kind: turns.EventUserStarted, At: time.Now()})

	case agent.UserSpeechStopped:
		s.applyTurn(turns.Event{Kind: turns.EventUserStopped, At: time.Now(), Forced: e.Forced})

	case agent.AgentSpeechStarted:
		s.applyTurn(turns.Event{Kind: turns.EventAgentStarted, At: time.Now()})
		if e.Text != "" {
			s.p.Memory.Append(memory.Turn{Role: memory.RoleAgent, Text: e.Text})
		}

	case agent.AgentSpeechDone:
		s.applyTurn(turns.Event{Kind: turns.EventAgentFinished, At: time.Now()})
		if tail := s.transcode.FlushToCarrier(); len(tail) > 0 {
			s.sendOutbound(s.outboundChunk(tail))
		}
		if err := s.p.Carrier.SendMark(fmt.Sprintf("utt-%d", time.Now().UnixMilli())); err != nil {
			s.log.Warn().Err(err).Msg("mark send failed")
		}

	case agent.AudioDelta:
		if !s.machine.ForwardOutbound() {
			// Only one outbound source may be active; late synthesized audio
			// after a barge-in is discarded, never queued.
			s.p.Metrics.DroppedFrames.Inc()
			return
		}
		data, err := base64.StdEncoding.DecodeString(e.DataB64)
		if err != nil || len(data) == 0 {
			s.log.Warn().Msg("dropping undecodable agent audio")
			return
		}
		frames, err := s.transcode.ToCarrierFormat(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping untranscodable agent audio")
			return
		}
		for _, f := range frames {
			s.sendOutbound(s.outboundChunk(f))
		}

	case agent.FunctionCall:
		s.startDispatch(ctx, e)

	case agent.SlotUpdate:
		s.p.Memory.SetSlot(e.Key, e.Value)

	case agent.ErrorEvent:
		s.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("agent reported error")

	default:
		s.log.Warn().Msg("unhandled agent event")
	}
}

// sendOutbound ships one carrier-bound chunk, re-checking the floor so a
// barge-in between transcode and send still suppresses it.
func (s *Session) sendOutbound(c audio.Chunk) {
	if !s.machine.ForwardOutbound() {
		s.p.Metrics.DroppedFrames.Inc()
		return
	}
	if err := s.p.Carrier.SendMedia(base64.StdEncoding.EncodeToString(c.Data)); err != nil {
		s.log.Warn().Str("direction", c.Direction.String()).Int64("seq", c.Seq).Err(err).Msg("outbound media send failed")
	}
}

// applyTurn advances the turn machine and executes its effects in order.
func (s *Session) applyTurn(ev turns.Event) {
	tr := s.machine.Apply(ev)
	if tr.Ignored {
		s.log.Debug().
			Str("event", ev.Kind.String()).
			Str("state", tr.From.String()).
			Str("note", tr.Note).
			Msg("turn event ignored")
		return
	}
	for _, eff := range tr.Effects {
		switch eff {
		case turns.EffectStopOutbound:
			// Gating is re-checked on every outbound frame; nothing else to do.
		case turns.EffectFlushCarrier:
			s.p.Carrier.DropPendingMedia()
			if err := s.p.Carrier.SendClear(); err != nil {
				s.log.Warn().Err(err).Msg("clear send failed")
			}
		case turns.EffectMarkTruncated:
			s.p.Memory.MarkLastAgentTruncated()
		case turns.EffectStartEndpointing:
			s.endpoint.Begin()
		case turns.EffectStopEndpointing:
			s.endpoint.Stop()
		}
	}
	if tr.BargeIn() {
		s.p.Metrics.BargeIns.Inc()
		s.log.Info().Msg("caller barged in, agent audio suppressed")
	}
}

// checkEndpoint runs the local end-of-turn fallback.
func (s *Session) checkEndpoint() {
	fired, forced := s.endpoint.Check()
	if !fired {
		return
	}
	s.log.Debug().Bool("forced", forced).Msg("local endpointing fired")
	s.applyTurn(turns.Event{Kind: turns.EventUserStopped, At: time.Now(), Forced: forced})
}

// startDispatch runs one function call off the audio path and sends its
// single result back on the agent link. Repeated correlation ids are
// answered only once.
func (s *Session) startDispatch(ctx context.Context, call agent.FunctionCall) {
	s.mu.Lock()
	if _, dup := s.seen[call.CorrelationID]; dup {
		s.mu.Unlock()
		s.log.Warn().Str("correlation_id", call.CorrelationID).Msg("duplicate function call ignored")
		return
	}
	s.seen[call.CorrelationID] = struct{}{}
	s.mu.Unlock()

	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()

		start := time.Now()
		res := s.p.Dispatcher.Dispatch(ctx, dispatch.Request{
			CallID:        s.p.Start.CallID,
			Name:          call.Name,
			Args:          call.Arguments,
			CorrelationID: call.CorrelationID,
		})
		s.p.Metrics.FunctionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		if !res.OK {
			s.p.Metrics.FunctionFailures.WithLabelValues(call.Name, res.ErrorCode).Inc()
		}

		s.recordResult(call.Name, res)

		conn := s.currentAgent()
		if conn == nil {
			return
		}
		if err := conn.SendFunctionResult(res); err != nil {
			s.log.Warn().Str("correlation_id", res.CorrelationID).Err(err).Msg("function result send failed")
		}
	}()
}

// recordResult notes the outcome in memory and captures booking references
// for the call record.
func (s *Session) recordResult(name string, res dispatch.Result) {
	detail := res.Message
	if res.OK {
		detail = "completed"
		if ref, ok := res.Payload["ref"].(string); ok && ref != "" {
			detail = "ref " + ref
			s.mu.Lock()
			s.apptRef = ref
			s.mu.Unlock()
		}
	}
	s.p.Memory.RecordFunctionResult(name, res.OK, detail)
}
