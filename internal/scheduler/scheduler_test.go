package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish (state %s)", task.Name(), task.State())
	}
}

func TestCallLaterRunsOnce(t *testing.T) {
	s := New()
	defer s.Close()

	var runs atomic.Int32
	task := s.CallLater("once", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	waitDone(t, task)

	if runs.Load() != 1 || task.Runs() != 1 {
		t.Errorf("runs = %d / %d, want 1", runs.Load(), task.Runs())
	}
	if task.State() != StateCompleted {
		t.Errorf("state = %s, want completed", task.State())
	}
}

func TestCancelBeforeRunPreventsIt(t *testing.T) {
	s := New()
	defer s.Close()

	var ran atomic.Bool
	task := s.CallLater("later", 100*time.Millisecond, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	time.Sleep(50 * time.Millisecond)
	if !task.Cancel() {
		t.Fatal("Cancel on a pending task returned false")
	}
	waitDone(t, task)
	time.Sleep(100 * time.Millisecond)

	if ran.Load() {
		t.Error("cancelled task ran")
	}
	if task.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", task.State())
	}
	if task.Cancel() {
		t.Error("second Cancel returned true")
	}
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	s := New()
	defer s.Close()

	task := s.CallLater("later", 100*time.Millisecond, func(context.Context) error { return nil })
	time.Sleep(150 * time.Millisecond)
	waitDone(t, task)

	if task.Cancel() {
		t.Error("Cancel after completion returned true")
	}
	if task.State() != StateCompleted || task.Runs() != 1 {
		t.Errorf("state = %s runs = %d", task.State(), task.Runs())
	}
}

func TestCancelWhileOneShotRunsIsNoop(t *testing.T) {
	s := New()
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	task := s.CallLater("one-shot", 0, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if task.Cancel() {
		t.Error("Cancel() = true for a one-shot task already running")
	}
	close(release)
	waitDone(t, task)

	if task.State() != StateCompleted || task.Runs() != 1 {
		t.Errorf("state = %s, runs = %d; want completed after 1 run", task.State(), task.Runs())
	}
}

func TestPeriodicWaitsPeriodAfterCompletion(t *testing.T) {
	s := New()
	defer s.Close()

	const (
		period = 20 * time.Millisecond
		body   = 30 * time.Millisecond
	)
	var mu sync.Mutex
	var starts, ends []time.Time
	task := s.CallPeriodic("slow", period, func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(body)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return nil
	}, WithInitialDelay(0))

	deadline := time.Now().Add(2 * time.Second)
	for task.Runs() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	task.Cancel()
	waitDone(t, task)

	mu.Lock()
	defer mu.Unlock()
	if len(starts) < 4 {
		t.Fatalf("runs = %d, want at least 4", len(starts))
	}
	for i := 1; i < len(starts) && i < len(ends)+1; i++ {
		if gap := starts[i].Sub(ends[i-1]); gap < period {
			t.Errorf("run %d started %s after run %d ended, want at least %s", i+1, gap, i, period)
		}
	}
}

func TestPeriodicStopsWhenCancelledFromItsBody(t *testing.T) {
	s := New()
	defer s.Close()

	var (
		self     atomic.Pointer[Task]
		runs     atomic.Int32
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	task := s.CallPeriodic("tick", 5*time.Millisecond, func(context.Context) error {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(2 * time.Millisecond)
		if runs.Add(1) == 3 {
			self.Load().Cancel()
		}
		return nil
	}, WithInitialDelay(20*time.Millisecond))
	self.Store(task)

	waitDone(t, task)
	time.Sleep(30 * time.Millisecond)

	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
	if task.Runs() != 3 {
		t.Errorf("Task.Runs = %d, want 3", task.Runs())
	}
	if overlap.Load() {
		t.Error("periodic runs overlapped")
	}
	if task.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", task.State())
	}
}

func TestPeriodicKeepsCadenceAfterErrors(t *testing.T) {
	errBoom := errors.New("boom")
	var failures atomic.Int32
	s := New(WithErrorHandler(func(err *TaskError) {
		if errors.Is(err, errBoom) {
			failures.Add(1)
		}
	}))
	defer s.Close()

	var self atomic.Pointer[Task]
	var runs atomic.Int32
	task := s.CallPeriodic("failing", 5*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 4 {
			self.Load().Cancel()
		}
		return errBoom
	}, WithInitialDelay(10*time.Millisecond))
	self.Store(task)

	waitDone(t, task)
	if runs.Load() != 4 {
		t.Errorf("runs = %d, want 4", runs.Load())
	}
	if failures.Load() != 4 {
		t.Errorf("failures = %d, want 4", failures.Load())
	}
}

func TestPanicBecomesTaskError(t *testing.T) {
	got := make(chan *TaskError, 1)
	s := New(WithErrorHandler(func(err *TaskError) { got <- err }))
	defer s.Close()

	task := s.CallLater("panicky", 0, func(context.Context) error { panic("kaboom") })
	waitDone(t, task)

	select {
	case err := <-got:
		if !err.Panicked() || err.Name != "panicky" || err.TaskID != task.ID() {
			t.Errorf("TaskError = %+v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}
	if task.State() != StateCompleted {
		t.Errorf("state = %s, want completed", task.State())
	}
}

func TestAsyncActionIsAwaited(t *testing.T) {
	errAsync := errors.New("async failure")
	got := make(chan error, 1)
	s := New(WithErrorHandler(func(err *TaskError) { got <- err.Err }))
	defer s.Close()

	release := make(chan struct{})
	task := s.CallLaterAsync("async", 0, func(context.Context) <-chan error {
		ch := make(chan error, 1)
		go func() {
			<-release
			ch <- errAsync
		}()
		return ch
	})

	time.Sleep(20 * time.Millisecond)
	if task.State() != StateRunning {
		t.Errorf("state = %s while awaiting, want running", task.State())
	}
	close(release)
	waitDone(t, task)

	if err := <-got; !errors.Is(err, errAsync) {
		t.Errorf("err = %v", err)
	}
}

func TestPeriodicAsyncNeverOverlaps(t *testing.T) {
	s := New()
	defer s.Close()

	var inFlight, maxInFlight, runs atomic.Int32
	task := s.CallPeriodicAsync("async-periodic", time.Millisecond, func(context.Context) <-chan error {
		ch := make(chan error, 1)
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		go func() {
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			runs.Add(1)
			ch <- nil
		}()
		return ch
	})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	task.Cancel()
	waitDone(t, task)

	if runs.Load() < 3 {
		t.Fatalf("runs = %d", runs.Load())
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("max in flight = %d, want 1", maxInFlight.Load())
	}
}

func TestAwaitNilChannel(t *testing.T) {
	action := Await(func(context.Context) <-chan error { return nil })
	if err := action(context.Background()); err != nil {
		t.Errorf("Await(nil channel) = %v", err)
	}
}

func TestCloseCancelsAndWaits(t *testing.T) {
	s := New()

	started := make(chan struct{})
	var finished atomic.Bool
	running := s.CallLater("running", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	pending := s.CallLater("pending", time.Hour, func(context.Context) error { return nil })
	<-started

	s.Close()

	if !finished.Load() {
		t.Error("Close returned before the running body finished")
	}
	if pending.State() != StateCancelled {
		t.Errorf("pending state = %s, want cancelled", pending.State())
	}
	if running.Runs() != 1 {
		t.Errorf("running task runs = %d", running.Runs())
	}
	if len(s.Tasks()) != 0 {
		t.Errorf("Tasks() after Close = %d", len(s.Tasks()))
	}

	late := s.CallLater("late", 0, func(context.Context) error { return nil })
	waitDone(t, late)
	if late.State() != StateCancelled {
		t.Errorf("task scheduled after Close: state = %s", late.State())
	}
	if _, err := s.CallCron("cron", "* * * * *", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("CallCron after Close = %v, want ErrClosed", err)
	}
	s.Close()
}

func TestTasksListsLiveTasks(t *testing.T) {
	s := New()
	defer s.Close()

	a := s.CallLater("a", time.Hour, func(context.Context) error { return nil })
	b := s.CallPeriodic("b", time.Hour, func(context.Context) error { return nil })

	tasks := s.Tasks()
	if len(tasks) != 2 || tasks[0] != a || tasks[1] != b {
		t.Fatalf("Tasks() = %v", tasks)
	}
	if s.Get(b.ID()) != b {
		t.Error("Get did not find task b")
	}
	info := b.Info()
	if info.Name != "b" || info.State != "pending" || info.Period != "1h0m0s" || info.NextRun == nil {
		t.Errorf("Info = %+v", info)
	}

	a.Cancel()
	waitDone(t, a)
	if tasks := s.Tasks(); len(tasks) != 1 || tasks[0] != b {
		t.Errorf("Tasks() after cancel = %v", tasks)
	}
}

func TestCallCronRejectsBadExpressions(t *testing.T) {
	s := New()
	defer s.Close()

	if _, err := s.CallCron("bad", "* * *", func(context.Context) error { return nil }); err == nil {
		t.Error("expected parse error")
	}
	if _, err := s.CallCron("never", "0 0 30 2 *", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for an expression that never fires")
	}
	task, err := s.CallCron("save", "*/5 * * * *", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("CallCron: %v", err)
	}
	if info := task.Info(); info.Cron != "*/5 * * * *" || info.NextRun == nil {
		t.Errorf("Info = %+v", info)
	}
}
