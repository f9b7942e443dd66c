package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/logging"
	"github.com/frontdesk-ai/frontdesk/pkg/resilience"
)

const (
	defaultTimeout = 3 * time.Second
	minTimeout     = 2 * time.Second
	maxTimeout     = 5 * time.Second
)

// Dispatcher executes function calls for one session. It always produces
// exactly one Result per request, whatever happens underneath: handler
// error, panic, timeout, pool rejection, or session shutdown.
//
// The dispatcher does not sequence business logic; each request is treated
// independently. Ordering dependencies live inside handlers.
type Dispatcher struct {
	registry *Registry
	pool     *Pool
	retry    resilience.Policy
	log      *logging.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewDispatcher creates a per-session dispatcher on the shared pool.
func NewDispatcher(registry *Registry, pool *Pool, retry resilience.Policy, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{
		registry: registry,
		pool:     pool,
		retry:    retry,
		log:      log.Sub("dispatch"),
		failures: make(map[string]int),
	}
}

// Dispatch executes one request and returns its single result. It blocks
// for at most the function's timeout per attempt; callers run it off the
// audio path.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	def, handler, ok := d.registry.Resolve(req.Name)
	if !ok {
		d.log.Warn().Str("function", req.Name).Msg("unknown function requested")
		return d.failure(req, CodeUnknownFunction, MsgUnavailable)
	}

	// A logical operation that already burned its retry budget this call
	// degrades immediately instead of making the caller wait again.
	if d.failureCount(req.Name) >= d.maxAttempts(def) {
		d.log.Warn().Str("function", req.Name).Msg("degrading after repeated failure")
		return d.failure(req, CodeDegraded, MsgDegraded)
	}

	start := time.Now()
	policy := d.retry
	policy.MaxAttempts = d.maxAttempts(def)

	var payload map[string]any
	err := policy.Do(ctx, func(ctx context.Context) error {
		out, attemptErr := d.attempt(ctx, def, handler, req)
		if attemptErr != nil {
			d.recordFailure(req.Name)
			return attemptErr
		}
		payload = out
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		d.log.Warn().
			Str("function", req.Name).
			Str("correlation_id", req.CorrelationID).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("function call failed")
		switch {
		case ctx.Err() != nil:
			return d.failure(req, CodeCanceled, MsgDegraded)
		case errors.Is(err, ErrPoolFull):
			return d.failure(req, CodeBusy, MsgUnavailable)
		case isTimeout(err):
			return d.failure(req, CodeTimeout, MsgTimeout)
		case d.failureCount(req.Name) >= d.maxAttempts(def):
			return d.failure(req, CodeDegraded, MsgDegraded)
		default:
			return d.failure(req, CodeHandlerError, MsgUnavailable)
		}
	}

	d.clearFailures(req.Name)
	d.log.Debug().
		Str("function", req.Name).
		Str("correlation_id", req.CorrelationID).
		Dur("elapsed", elapsed).
		Msg("function call completed")
	return Result{CorrelationID: req.CorrelationID, OK: true, Payload: payload}
}

// attempt runs the handler once on the shared pool under the function's
// timeout, recovering panics into errors.
func (d *Dispatcher) attempt(ctx context.Context, def Definition, handler Handler, req Request) (map[string]any, error) {
	hctx, cancel := context.WithTimeout(ctx, d.timeout(def))
	defer cancel()

	type outcome struct {
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)

	if err := d.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		payload, err := handler.Invoke(hctx, req)
		done <- outcome{payload: payload, err: err}
	}); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolFull, def.Name)
	}

	select {
	case o := <-done:
		return o.payload, o.err
	case <-hctx.Done():
		// The handler may still complete downstream; handlers are
		// idempotent by correlation id, so a late completion is harmless.
		return nil, fmt.Errorf("%s: %w", def.Name, context.DeadlineExceeded)
	}
}

func (d *Dispatcher) timeout(def Definition) time.Duration {
	t := def.Timeout
	if t <= 0 {
		return defaultTimeout
	}
	if t < minTimeout {
		return minTimeout
	}
	if t > maxTimeout {
		return maxTimeout
	}
	return t
}

func (d *Dispatcher) maxAttempts(def Definition) int {
	if def.MaxAttempts > 0 {
		return def.MaxAttempts
	}
	if d.retry.MaxAttempts > 0 {
		return d.retry.MaxAttempts
	}
	return 2
}

func (d *Dispatcher) failure(req Request, code, message string) Result {
	return Result{CorrelationID: req.CorrelationID, OK: false, ErrorCode: code, Message: message}
}

func (d *Dispatcher) failureCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures[name]
}

func (d *Dispatcher) recordFailure(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[name]++
}

func (d *Dispatcher) clearFailures(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, name)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
