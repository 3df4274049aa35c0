// Package taskqueue implements a bounded-concurrency asynchronous task
// executor: a queue plus an in-flight counter plus a small lifecycle state
// machine, with promise-style completion signals for submitters and for
// idle/stop observers.
package taskqueue

import (
	"context"
	"errors"
	"sync"
)

// State is one of the Executor's lifecycle states.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Errors returned by Submit.
var (
	ErrNilFunc      = errors.New("taskqueue: fn must not be nil")
	ErrShuttingDown = errors.New("taskqueue: executor is stopping or stopped")
	ErrAlreadyRan   = errors.New("taskqueue: task already ran")
)

// Fn is the work a submitted Task performs. It never panics the executor:
// a returned error is carried on Completion but never perturbs scheduling.
type Fn func(ctx context.Context, args any) (any, error)

// Completion is a one-shot signal fulfilled when a Task finishes, carrying
// the result and the error its Fn returned.
type Completion struct {
	done   chan struct{}
	result any
	err    error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) settle(result any, err error) {
	c.result, c.err = result, err
	close(c.done)
}

// Wait blocks until the task completes (or ctx is done) and returns its
// outcome.
func (c *Completion) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the task completes, for use in select
// statements.
func (c *Completion) Done() <-chan struct{} { return c.done }

// task is a single-shot unit of work; re-running it after it has started
// fails synchronously.
type task struct {
	fn       Fn
	args     any
	started  bool
	completion *Completion
}

// signal is a one-shot broadcast: wait blocks until fire is called; fire may
// be safely called more than once (only the first call has effect).
type signal struct {
	mu   sync.Mutex
	ch   chan struct{}
	done bool
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs a bounded number of Tasks concurrently. All mutation of its
// queue, state, and counters happens under a single mutex so the scheduler
// is effectively serialized even though tasks themselves run in parallel
// goroutines.
type Executor struct {
	mu       sync.Mutex
	capacity int
	state    State
	queue    []*task
	inFlight int
	completed int

	onIdle          *signal
	onStopRequested *signal
	onStopped       *signal
}

// New creates an Executor with the given maximum number of simultaneously
// in-flight tasks. capacity must be at least 1.
func New(capacity int) *Executor {
	if capacity < 1 {
		capacity = 1
	}
	return &Executor{
		capacity:        capacity,
		state:           Idle,
		onIdle:          newSignal(),
		onStopRequested: newSignal(),
		onStopped:       newSignal(),
	}
}

// Stats is a point-in-time snapshot of executor counters, exposed for
// observability (structured logging); it is not consulted by the scheduler.
type Stats struct {
	Capacity  int
	InFlight  int
	Queued    int
	Completed int
	State     State
}

// Stats returns a snapshot of the executor's current counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Capacity:  e.capacity,
		InFlight:  e.inFlight,
		Queued:    len(e.queue),
		Completed: e.completed,
		State:     e.state,
	}
}

// Submit validates fn, builds a Task, and either starts it immediately (if
// in-flight < capacity) or enqueues it in FIFO order. Submission is
// rejected once the executor is Stopping or Stopped.
func (e *Executor) Submit(ctx context.Context, fn Fn, args any) (*Completion, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}

	e.mu.Lock()
	if e.state == Stopping || e.state == Stopped {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}

	t := &task{fn: fn, args: args, completion: newCompletion()}

	if e.state == Idle {
		e.state = Running
	}

	if e.inFlight < e.capacity {
		e.inFlight++
		e.mu.Unlock()
		e.run(ctx, t)
		return t.completion, nil
	}

	e.queue = append(e.queue, t)
	e.mu.Unlock()
	return t.completion, nil
}

// run executes a task's function in its own goroutine and feeds the result
// back into the scheduler on completion. A task's outcome — result or
// error — never perturbs the executor; both paths always decrement
// in-flight and re-enter the scheduler.
func (e *Executor) run(ctx context.Context, t *task) {
	if t.started {
		t.completion.settle(nil, ErrAlreadyRan)
		e.onTaskDone()
		return
	}
	t.started = true

	go func() {
		result, err := t.fn(ctx, t.args)
		t.completion.settle(result, err)
		e.onTaskDone()
	}()
}

// onTaskDone decrements in-flight, bumps completed, and advances the
// scheduler: start the next queued task if capacity allows, or transition
// to Idle/Stopped and fulfill the matching signals when in-flight reaches
// zero.
func (e *Executor) onTaskDone() {
	e.mu.Lock()
	e.inFlight--
	e.completed++

	var toStart *task
	if e.state == Running && len(e.queue) > 0 && e.inFlight < e.capacity {
		toStart = e.queue[0]
		e.queue = e.queue[1:]
		e.inFlight++
	}

	reachedZero := e.inFlight == 0 && toStart == nil
	var fireIdle, fireStopped bool
	if reachedZero {
		switch e.state {
		case Running:
			e.state = Idle
			fireIdle = true
		case Stopping:
			e.state = Stopped
			fireStopped = true
		}
	}
	nextOnIdle := e.onIdle
	if fireIdle {
		// Re-arm for the next Idle->Running->Idle cycle.
		e.onIdle = newSignal()
	}
	e.mu.Unlock()

	if fireIdle {
		nextOnIdle.fire()
	}
	if fireStopped {
		e.onStopped.fire()
	}
	if toStart != nil {
		e.run(context.Background(), toStart)
	}
}

// Stop requests a graceful shutdown: transitions to Stopping (or straight
// to Stopped if already Idle), drops all queued tasks (their completions
// are abandoned — best-effort cancellation, dropped tasks never touch the
// completed counter), fulfills onStopRequested, and fulfills onStopped once
// any remaining in-flight tasks finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	switch e.state {
	case Stopped:
		e.mu.Unlock()
		return
	case Idle:
		e.state = Stopped
		e.queue = nil
		e.mu.Unlock()
		e.onStopRequested.fire()
		e.onStopped.fire()
		return
	default:
		e.state = Stopping
		e.queue = nil
		e.mu.Unlock()
		e.onStopRequested.fire()
	}
}

// OnIdle blocks until in-flight next reaches zero
// while Running (or until ctx is done). It is safe to call repeatedly: each
// call observes whichever idle signal is currently armed.
func (e *Executor) OnIdle(ctx context.Context) error {
	e.mu.Lock()
	sig := e.onIdle
	e.mu.Unlock()
	return sig.wait(ctx)
}

// OnStopRequested blocks until Stop has been called.
func (e *Executor) OnStopRequested(ctx context.Context) error {
	return e.onStopRequested.wait(ctx)
}

// OnStopped blocks until the executor has fully drained after Stop.
func (e *Executor) OnStopped(ctx context.Context) error {
	return e.onStopped.wait(ctx)
}

// CurrentState returns the executor's current lifecycle state.
func (e *Executor) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
