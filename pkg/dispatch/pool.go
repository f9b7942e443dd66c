package dispatch

import (
	"errors"
	"sync"
)

// ErrPoolFull is returned when the pool's queue cannot admit another task.
// Admission control, not blocking: callers turn this into a caller-safe
// busy result instead of stalling the conversation.
var ErrPoolFull = errors.New("dispatch: worker pool full")

// ErrPoolClosed is returned after Close.
var ErrPoolClosed = errors.New("dispatch: worker pool closed")

// Pool is the bounded worker pool shared by all sessions' dispatchers. It
// protects downstream services from unbounded fan-out across simultaneous
// calls; it is the only resource shared between sessions.
type Pool struct {
	tasks chan func()

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines servicing a queue of depth queue.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		return ErrPoolFull
	}
}

// Close stops admission and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
