package session

import (
	"context"
	"strings"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

// resolveOutcome derives the terminal disposition from what happened during
// the call, in priority order.
func (s *Session) resolveOutcome() store.Outcome {
	s.mu.Lock()
	transferred := s.transferred
	apptRef := s.apptRef
	s.mu.Unlock()

	switch {
	case transferred:
		return store.OutcomeTransferred
	case apptRef != "":
		return store.OutcomeBooked
	case s.p.Supervisor.Degraded():
		return store.OutcomeFailed
	case !s.callerSpoke():
		return store.OutcomeMissed
	default:
		return store.OutcomeInfo
	}
}

func (s *Session) callerSpoke() bool {
	for _, t := range s.p.Memory.Transcript() {
		if t.Role == memory.RoleCaller {
			return true
		}
	}
	return false
}

// finalize writes the call record exactly once: waits briefly for in-flight
// function calls, closes both links, summarizes, and persists.
func (s *Session) finalize(ctx context.Context, outcome store.Outcome) {
	s.finalizeOne.Do(func() {
		s.setPhase(PhaseFinalizing)

		// Give in-flight function calls a bounded chance to land in the
		// transcript; the record is written regardless.
		done := make(chan struct{})
		go func() {
			s.dispatchWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(finalizeGrace):
			s.log.Warn().Msg("finalizing with function calls still in flight")
		}

		if conn := s.currentAgent(); conn != nil {
			_ = conn.SendClose("call ended")
			_ = conn.Close()
		}
		_ = s.p.Carrier.Close()

		endedAt := time.Now().UTC()
		transcript := s.p.Memory.Transcript()

		summary, err := memory.ExtractiveSummarizer{}.Summarize(context.Background(), "", transcript)
		if err != nil {
			summary = ""
		}

		s.mu.Lock()
		apptRef := s.apptRef
		s.mu.Unlock()

		rec := store.CallRecord{
			ID:             s.p.ID,
			CarrierCallID:  s.p.Start.CallID,
			CallerNumber:   s.p.Start.Caller,
			StartedAt:      s.startedAt,
			EndedAt:        endedAt,
			DurationMS:     endedAt.Sub(s.startedAt).Milliseconds(),
			Outcome:        outcome,
			Transcript:     transcript,
			Summary:        summary,
			Sentiment:      assessSentiment(transcript),
			AppointmentRef: apptRef,
		}
		if err := s.p.Store.SaveCallRecord(rec); err != nil {
			s.log.Error().Err(err).Msg("call record persist failed")
			s.finalizeErr = err
		}
		s.p.Metrics.CallOutcomes.WithLabelValues(string(outcome)).Inc()

		s.setPhase(PhaseClosed)
		s.log.Info().
			Str("outcome", string(outcome)).
			Int64("duration_ms", rec.DurationMS).
			Int("turns", len(transcript)).
			Msg("call finalized")
	})
}

var negativeTerms = []string{
	"frustrated", "angry", "upset", "terrible", "awful", "worst",
	"ridiculous", "unacceptable", "annoyed", "complaint",
}

var positiveTerms = []string{
	"thank", "great", "perfect", "wonderful", "appreciate", "awesome",
	"helpful", "excellent",
}

// assessSentiment scores the caller's side of the transcript with a small
// lexicon. It feeds the record's reporting field only; nothing in the live
// call depends on it.
func assessSentiment(transcript []memory.Turn) string {
	score := 0
	for _, t := range transcript {
		if t.Role != memory.RoleCaller {
			continue
		}
		text := strings.ToLower(t.Text)
		for _, term := range negativeTerms {
			if strings.Contains(text, term) {
				score--
			}
		}
		for _, term := range positiveTerms {
			if strings.Contains(text, term) {
				score++
			}
		}
	}
	switch {
	case score > 0:
		return "positive"
	case score < 0:
		return "negative"
	default:
		return "neutral"
	}
}
