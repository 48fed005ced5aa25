package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StatePending State = iota
	StateRunning
	StateWaiting
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task is a handle to a scheduled action.
type Task struct {
	id      string
	name    string
	seq     uint64
	created time.Time
	period  time.Duration
	cron    string

	state   atomic.Int32
	runs    atomic.Int64
	nextRun atomic.Int64

	cancelOnce sync.Once
	cancelled  chan struct{}
	done       chan struct{}
}

func (t *Task) ID() string   { return t.id }
func (t *Task) Name() string { return t.name }
func (t *Task) State() State { return State(t.state.Load()) }

// Runs counts finished invocations, failed ones included.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Done is closed once the task will never run again.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops future runs. A run already in progress finishes normally.
// It reports false if the task had already completed or been cancelled,
// or if it is a one-shot task whose only run has started.
func (t *Task) Cancel() bool {
	for {
		cur := t.State()
		if cur == StateCompleted || cur == StateCancelled {
			return false
		}
		if cur == StateRunning && t.oneShot() {
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(StateCancelled)) {
			t.cancelOnce.Do(func() { close(t.cancelled) })
			return true
		}
	}
}

func (t *Task) oneShot() bool { return t.period == 0 && t.cron == "" }

func (t *Task) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// Info is the JSON view of a task.
type Info struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	State   string     `json:"state"`
	Runs    int64      `json:"runs"`
	Created time.Time  `json:"created"`
	Period  string     `json:"period,omitempty"`
	Cron    string     `json:"cron,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (t *Task) Info() Info {
	info := Info{
		ID:      t.id,
		Name:    t.name,
		State:   t.State().String(),
		Runs:    t.Runs(),
		Created: t.created,
		Cron:    t.cron,
	}
	if t.period > 0 {
		info.Period = t.period.String()
	}
	if n := t.nextRun.Load(); n != 0 {
		next := time.Unix(0, n)
		info.NextRun = &next
	}
	return info
}
