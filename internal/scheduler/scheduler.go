package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by CallCron after Close.
var ErrClosed = errors.New("scheduler closed")

// Action is the body of a scheduled task. ctx is cancelled when the
// scheduler closes, not when the task is cancelled.
type Action func(ctx context.Context) error

// AsyncAction starts work and reports the outcome on the returned channel.
type AsyncAction func(ctx context.Context) <-chan error

// Await adapts an AsyncAction so the task loop waits for its result.
// A nil channel counts as immediate success.
func Await(a AsyncAction) Action {
	return func(ctx context.Context) error {
		done := a(ctx)
		if done == nil {
			return nil
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TaskError wraps a failed or panicking run.
type TaskError struct {
	TaskID string
	Name   string
	Err    error
	Stack  []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s): %v", e.Name, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Panicked reports whether the run panicked rather than returned an error.
func (e *TaskError) Panicked() bool { return e.Stack != nil }

type Scheduler struct {
	log     zerolog.Logger
	onError func(*TaskError)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*Task
	seq    uint64
	closed bool
}

type Option func(*Scheduler)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithErrorHandler is called, after logging, for every failed run.
func WithErrorHandler(f func(*TaskError)) Option {
	return func(s *Scheduler) { s.onError = f }
}

func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:    zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "scheduler").Logger()
	return s
}

type periodicConfig struct {
	initialDelay time.Duration
}

type PeriodicOption func(*periodicConfig)

// WithInitialDelay sets the wait before the first run. Defaults to the period.
func WithInitialDelay(d time.Duration) PeriodicOption {
	return func(c *periodicConfig) { c.initialDelay = d }
}

// CallLater runs action once after delay.
func (s *Scheduler) CallLater(name string, delay time.Duration, action Action) *Task {
	return s.start(newTask(name), delay, nil, action)
}

// CallPeriodic runs action every period, measured from the end of the
// previous run. Runs never overlap.
func (s *Scheduler) CallPeriodic(name string, period time.Duration, action Action, opts ...PeriodicOption) *Task {
	if period <= 0 {
		period = time.Millisecond
	}
	cfg := periodicConfig{initialDelay: period}
	for _, opt := range opts {
		opt(&cfg)
	}
	t := newTask(name)
	t.period = period
	return s.start(t, cfg.initialDelay, func(time.Time) time.Duration { return period }, action)
}

func (s *Scheduler) CallLaterAsync(name string, delay time.Duration, action AsyncAction) *Task {
	return s.CallLater(name, delay, Await(action))
}

func (s *Scheduler) CallPeriodicAsync(name string, period time.Duration, action AsyncAction, opts ...PeriodicOption) *Task {
	return s.CallPeriodic(name, period, Await(action), opts...)
}

// CallCron runs action at every time matched by the 5-field expression expr.
func (s *Scheduler) CallCron(name, expr string, action Action) (*Task, error) {
	cron, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	untilNext := func(now time.Time) time.Duration {
		next, ok := cron.Next(now)
		if !ok {
			return -1
		}
		return next.Sub(now)
	}
	first := untilNext(time.Now())
	if first < 0 {
		return nil, fmt.Errorf("schedule %s: %q never fires", name, expr)
	}
	t := newTask(name)
	t.cron = expr
	return s.start(t, first, untilNext, action), nil
}

// Tasks returns the live tasks ordered by creation.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get looks up a live task by id.
func (s *Scheduler) Get(id string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// Close cancels every task and waits for running bodies to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.cancel()
	s.wg.Wait()
	s.log.Debug().Int("tasks", len(tasks)).Msg("closed")
}

func newTask(name string) *Task {
	return &Task{
		id:        uuid.NewString(),
		name:      name,
		created:   time.Now(),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) start(t *Task, delay time.Duration, next func(time.Time) time.Duration, action Action) *Task {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.closed || action == nil {
		s.mu.Unlock()
		t.state.Store(int32(StateCancelled))
		close(t.cancelled)
		close(t.done)
		return t
	}
	s.seq++
	t.seq = s.seq
	s.tasks[t.id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	t.nextRun.Store(time.Now().Add(delay).UnixNano())
	go s.loop(t, delay, next, action)
	return t
}

func (s *Scheduler) loop(t *Task, delay time.Duration, next func(time.Time) time.Duration, action Action) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.forget(t)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-t.cancelled:
			return
		case <-s.ctx.Done():
			t.Cancel()
			return
		case <-timer.C:
		}

		if !t.transition(StatePending, StateRunning) && !t.transition(StateWaiting, StateRunning) {
			return
		}
		t.nextRun.Store(0)
		s.run(t, action)
		t.runs.Add(1)

		if next == nil {
			t.transition(StateRunning, StateCompleted)
			return
		}
		wait := next(time.Now())
		if wait < 0 {
			t.transition(StateRunning, StateCompleted)
			return
		}
		if !t.transition(StateRunning, StateWaiting) {
			return
		}
		t.nextRun.Store(time.Now().Add(wait).UnixNano())
		timer.Reset(wait)
	}
}

func (s *Scheduler) run(t *Task, action Action) {
	err := s.invoke(t, action)
	if err == nil {
		return
	}
	evt := s.log.Error().Err(err.Err).Str("task", t.name).Str("task_id", t.id)
	if err.Panicked() {
		evt = evt.Bytes("stack", err.Stack)
	}
	evt.Msg("task failed")
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Scheduler) invoke(t *Task, action Action) (terr *TaskError) {
	defer func() {
		if r := recover(); r != nil {
			terr = &TaskError{TaskID: t.id, Name: t.name, Err: fmt.Errorf("panic: %v", r), Stack: debug.Stack()}
		}
	}()
	if err := action(s.ctx); err != nil {
		return &TaskError{TaskID: t.id, Name: t.name, Err: err}
	}
	return nil
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
}
