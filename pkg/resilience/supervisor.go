package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/logging"
)

// ErrDegraded is returned once reconnection attempts are exhausted. Every
// later call returns it again without retrying, so duplicate
// connection-closed signals cannot trigger duplicate degradation.
var ErrDegraded = errors.New("resilience: agent link degraded, attempts exhausted")

// Supervisor owns reconnection of the speech-agent link for one session.
// While the link is down, inbound carrier audio is held in a bounded ring
// and flushed in order once reconnected; on overflow the oldest frames are
// dropped.
//
// The carrier link has no supervisor: if it drops, the call is physically
// over and the session finalizes with whatever transcript was captured.
type Supervisor struct {
	policy Policy
	hold   *audio.FrameRing
	log    *logging.Logger

	mu         sync.Mutex
	degraded   bool
	reconnects int64
}

// NewSupervisor creates a supervisor with the given retry policy and a held
// audio budget of holdMs in the given format.
func NewSupervisor(policy Policy, format audio.Format, holdMs int, log *logging.Logger) *Supervisor {
	if holdMs <= 0 {
		holdMs = 3000
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Supervisor{
		policy: policy,
		hold:   audio.NewFrameRing(format, holdMs),
		log:    log.Sub("supervisor"),
	}
}

// Hold buffers one inbound audio frame while the agent link is down.
func (s *Supervisor) Hold(frame []byte) {
	s.hold.Push(frame)
}

// DrainHeld returns buffered frames in arrival order and empties the hold.
func (s *Supervisor) DrainHeld() [][]byte {
	return s.hold.Drain()
}

// HeldFrames returns how many frames are currently held.
func (s *Supervisor) HeldFrames() int { return s.hold.Len() }

// Degraded reports whether reconnection has been exhausted.
func (s *Supervisor) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Reconnects returns how many successful reconnections have happened.
func (s *Supervisor) Reconnects() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Reconnect runs dial under the bounded policy. On success the session
// should drain held audio into the fresh connection. On exhaustion the
// supervisor latches into the degraded state and returns ErrDegraded; the
// latch is permanent for the session's lifetime.
func (s *Supervisor) Reconnect(ctx context.Context, dial func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return ErrDegraded
	}
	s.mu.Unlock()

	attempt := 0
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := dial(ctx); err != nil {
			s.log.Warn().Int("attempt", attempt).Err(err).Msg("agent reconnect failed")
			return err
		}
		return nil
	})
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.log.Error().Int("attempts", attempt).Err(err).Msg("agent reconnect exhausted")
		return ErrDegraded
	}

	s.mu.Lock()
	s.reconnects++
	n := s.reconnects
	s.mu.Unlock()
	s.log.Info().Int64("reconnects", n).Int("held_frames", s.hold.Len()).Msg("agent link restored")
	return nil
}
