package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"streamrelay/internal/idgen"
	"streamrelay/internal/types"
)

// ErrSchedulerClosed is returned by Schedule after Shutdown.
var ErrSchedulerClosed = errors.New("alert: scheduler is shut down")

// task is one delayed unit of work. Each task owns its timer.
type task struct {
	id    string
	dueAt time.Time
	fn    func()
	timer types.Timer
}

// Scheduler runs functions after a delay and tracks every outstanding task by
// id, so shutdown can enumerate, drain or cancel pending work.
type Scheduler struct {
	clock  types.TimerClock
	logger *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	closed   bool
	inflight sync.WaitGroup

	scheduled atomic.Int64
	completed atomic.Int64
	cancelled atomic.Int64
}

// NewScheduler creates a Scheduler driven by clock.
func NewScheduler(clock types.TimerClock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Schedule arranges for fn to run once after delay and returns the task id.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (string, error) {
	id, err := idgen.Generate(idgen.PrefixTask)
	if err != nil {
		return "", fmt.Errorf("generating task id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSchedulerClosed
	}

	t := &task{id: id, dueAt: s.clock.Now().Add(delay), fn: fn}
	s.tasks[id] = t
	// The timer callback blocks on s.mu until this method returns, so the
	// task is always registered before it can run.
	t.timer = s.clock.AfterFunc(delay, func() { s.fire(id) })
	s.scheduled.Add(1)
	return id, nil
}

// fire claims the task and runs it. A task cancelled or drained in the
// meantime is no longer in the table and is skipped.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	s.inflight.Add(1)
	s.mu.Unlock()

	s.run(t)
}

func (s *Scheduler) run(t *task) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task_id", t.id, "panic", fmt.Sprintf("%v", r))
		}
		s.completed.Add(1)
	}()
	t.fn()
}

// Pending returns the ids of tasks that have not started, earliest due first.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.sortedLocked()
	ids := make([]string, len(pending))
	for i, t := range pending {
		ids[i] = t.id
	}
	return ids
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Cancel removes a pending task. It reports false if the task already started
// or does not exist.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, id)
	s.cancelled.Add(1)
	return true
}

// Drain runs every pending task now, in due order on the calling goroutine,
// then waits for tasks already in flight. Tasks not yet started when ctx is
// done are cancelled.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	pending := s.sortedLocked()
	for _, t := range pending {
		t.timer.Stop()
		delete(s.tasks, t.id)
	}
	s.inflight.Add(len(pending))
	s.mu.Unlock()

	for i, t := range pending {
		if err := ctx.Err(); err != nil {
			skipped := len(pending) - i
			s.inflight.Add(-skipped)
			s.cancelled.Add(int64(skipped))
			s.logger.Warn("drain interrupted; remaining tasks cancelled", "cancelled", skipped)
			return err
		}
		s.run(t)
	}

	return s.wait(ctx)
}

// Shutdown rejects new work, cancels every pending task and waits for tasks
// in flight to finish or ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.tasks)
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if n > 0 {
		s.cancelled.Add(int64(n))
		s.logger.Info("cancelled pending alert tasks", "count", n)
	}
	return s.wait(ctx)
}

func (s *Scheduler) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sortedLocked() []*task {
	out := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dueAt.Equal(out[j].dueAt) {
			return out[i].id < out[j].id
		}
		return out[i].dueAt.Before(out[j].dueAt)
	})
	return out
}
