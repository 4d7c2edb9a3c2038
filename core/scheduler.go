package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler steps cooperative tasks in activation order, one step per task
// per pass. Tasks are never preempted; a task that does not return from its
// step stalls the scheduler.
//
// PauseTask, WakeTask and IsTaskPaused are safe from any goroutine. RunOnce
// and RunForever must not run concurrently with each other.
type Scheduler struct {
	name string

	mu      sync.Mutex
	entries map[*Task]*taskEntry
	order   []*Task
	running bool
	closing bool

	pass   sync.Mutex
	wakeCh chan struct{}

	slowMo atomic.Int64
	idle   IdlePolicy

	// timer is created on the first timed pause and stopped once the
	// scheduler runs out of tasks.
	timerMu sync.Mutex
	timer   *wakeTimer

	history      *stepHistory
	steps        atomic.Int64
	faults       atomic.Int64
	logger       Logger
	metrics      Metrics
	faultHandler FaultHandler
}

// taskEntry is the scheduler's view of one task.
type taskEntry struct {
	paused   bool
	stepping bool
	pauseReq bool
	woken    bool
}

// NewScheduler creates a scheduler. A nil config uses DefaultSchedulerConfig.
func NewScheduler(config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		name:         config.Name,
		entries:      make(map[*Task]*taskEntry),
		wakeCh:       make(chan struct{}, 1),
		idle:         config.IdlePolicy,
		history:      newStepHistory(config.HistorySize),
		logger:       config.Logger,
		metrics:      config.Metrics,
		faultHandler: config.FaultHandler,
	}
	if s.name == "" {
		s.name = defaults.Name
	}
	if s.logger == nil {
		s.logger = defaults.Logger
	}
	if s.metrics == nil {
		s.metrics = defaults.Metrics
	}
	if s.faultHandler == nil {
		s.faultHandler = defaults.FaultHandler
	}
	s.slowMo.Store(int64(config.SlowMo))
	return s
}

func (s *Scheduler) Name() string { return s.name }

// SetSlowMo changes the delay between passes. Takes effect on the next pass.
func (s *Scheduler) SetSlowMo(d time.Duration) {
	s.slowMo.Store(int64(max(d, 0)))
}

func (s *Scheduler) SlowMo() time.Duration {
	return time.Duration(s.slowMo.Load())
}

// =============================================================================
// Task registry
// =============================================================================

// AddTask activates t on s as runnable. Adding a task twice is a no-op.
func (s *Scheduler) AddTask(t *Task) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.mu.Unlock()

	first, err := t.bind(s)
	if err != nil || !first {
		return err
	}

	s.mu.Lock()
	if _, ok := s.entries[t]; !ok {
		s.entries[t] = &taskEntry{}
		s.order = append(s.order, t)
	}
	s.mu.Unlock()

	s.logger.Debug("Task activated", F("scheduler", s.name), F("task", t.name), F("id", t.id))
	s.signal()
	return nil
}

// PauseTask stops stepping t until it is woken. A pause requested during
// t's own step takes effect when the step returns, unless t was woken in
// the meantime. Unknown tasks are ignored.
func (s *Scheduler) PauseTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[t]
	if !ok {
		return
	}
	if e.stepping {
		e.pauseReq = true
		return
	}
	e.paused = true
}

// WakeTask makes t runnable. Unknown tasks are ignored.
func (s *Scheduler) WakeTask(t *Task) {
	s.mu.Lock()
	e, ok := s.entries[t]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.stepping {
		e.woken = true
	}
	wasPaused := e.paused
	e.paused = false
	s.mu.Unlock()

	if wasPaused {
		s.signal()
	}
}

// IsTaskPaused reports whether t is paused. Tasks the scheduler does not
// know count as paused.
func (s *Scheduler) IsTaskPaused(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[t]
	return !ok || e.paused
}

// ListTasks returns every task on the scheduler, paused or not, in
// activation order.
func (s *Scheduler) ListTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Scheduler) signal() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) wakeAfter(t *Task, d time.Duration) {
	s.timerMu.Lock()
	if s.timer == nil {
		s.timer = newWakeTimer(s.WakeTask)
	}
	wt := s.timer
	s.timerMu.Unlock()
	wt.Schedule(t, d)
}

func (s *Scheduler) cancelWake(t *Task) {
	s.timerMu.Lock()
	wt := s.timer
	s.timerMu.Unlock()
	if wt != nil {
		wt.Cancel(t)
	}
}

// stopTimer ends the timer goroutine. A later timed pause starts a new one.
func (s *Scheduler) stopTimer() {
	s.timerMu.Lock()
	wt := s.timer
	s.timer = nil
	s.timerMu.Unlock()
	if wt != nil {
		wt.Stop()
	}
}

// =============================================================================
// Running
// =============================================================================

// RunOnce steps every runnable task once and returns how many steps ran.
// It never blocks waiting for work.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.pass.Lock()
	defer s.pass.Unlock()

	s.mu.Lock()
	batch := make([]*Task, 0, len(s.order))
	for _, t := range s.order {
		if !s.entries[t].paused {
			batch = append(batch, t)
		}
	}
	s.mu.Unlock()

	stepped := 0
	for _, t := range batch {
		if ctx.Err() != nil {
			break
		}
		if s.stepTask(ctx, t) {
			stepped++
		}
	}

	runnable, paused := s.counts()
	s.metrics.RecordRunQueue(s.name, runnable, paused)
	return stepped
}

// RunForever runs passes until no task remains. When every task is paused
// it blocks until one is woken (IdleBlock) or yields the processor between
// passes (IdleSpin). It returns nil once the task set is empty or after
// Shutdown, and ctx.Err() when ctx ends first.
func (s *Scheduler) RunForever(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler %s is already running", s.name)
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("Scheduler started", F("scheduler", s.name), F("tasks", s.TaskCount()))
	defer s.logger.Info("Scheduler stopped", F("scheduler", s.name))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosing() {
			s.stopAll()
			return nil
		}

		stepped := s.RunOnce(ctx)
		if s.TaskCount() == 0 {
			s.stopTimer()
			return nil
		}

		if stepped == 0 {
			if s.idle == IdleSpin {
				runtime.Gosched()
				continue
			}
			select {
			case <-s.wakeCh:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if d := s.SlowMo(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
}

// Shutdown stops every task: close-down hooks run and linkages are removed.
// A running RunForever returns nil after its current pass. Tasks can no
// longer be added afterwards.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closing = true
	running := s.running
	s.mu.Unlock()

	if running {
		s.signal()
		return
	}
	s.stopAll()
}

func (s *Scheduler) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Scheduler) stopAll() {
	for _, t := range s.ListTasks() {
		s.retire(t, nil)
	}
	s.stopTimer()
}

// stepTask runs one step of t. It returns false when t was no longer
// runnable.
func (s *Scheduler) stepTask(ctx context.Context, t *Task) bool {
	s.mu.Lock()
	e, ok := s.entries[t]
	if !ok || e.paused {
		s.mu.Unlock()
		return false
	}
	e.stepping = true
	e.pauseReq = false
	e.woken = false
	s.mu.Unlock()

	startedAt := time.Now()
	panicVal, stack, err := s.invoke(ctx, t)
	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)

	s.steps.Add(1)
	s.metrics.RecordStepDuration(t.name, duration)

	record := StepRecord{
		TaskID:     t.id,
		TaskName:   t.name,
		Scheduler:  s.name,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   duration,
	}

	switch {
	case panicVal != nil:
		record.Outcome = StepFaulted
		s.fault(ctx, t, &TaskFaultError{TaskName: t.name, TaskID: t.id, Panic: panicVal, Stack: stack}, panicVal, stack)
	case err == nil:
		record.Outcome = StepYielded
		s.mu.Lock()
		e.stepping = false
		if e.pauseReq && !e.woken {
			e.paused = true
		}
		s.mu.Unlock()
	case errors.Is(err, ErrTaskDone):
		record.Outcome = StepCompleted
		s.retire(t, nil)
	default:
		record.Outcome = StepFaulted
		s.fault(ctx, t, &TaskFaultError{TaskName: t.name, TaskID: t.id, Cause: err}, err, nil)
	}

	s.history.Add(record)
	return true
}

func (s *Scheduler) invoke(ctx context.Context, t *Task) (panicVal any, stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicVal = r
			stack = debug.Stack()
		}
	}()
	if t.step == nil {
		return nil, nil, ErrTaskDone
	}
	return nil, nil, t.step(withCurrentTask(ctx, t), t)
}

func (s *Scheduler) fault(ctx context.Context, t *Task, ferr *TaskFaultError, cause any, stack []byte) {
	s.faults.Add(1)
	s.logger.Error("Task faulted",
		F("scheduler", s.name),
		F("task", t.name),
		F("id", t.id),
		F("error", ferr.Error()),
	)
	s.faultHandler.HandleFault(ctx, t.name, t.id, cause, stack)
	s.metrics.RecordTaskFault(t.name, cause)
	s.retire(t, ferr)
}

// retire removes t from the scheduler and runs its close-down sequence.
func (s *Scheduler) retire(t *Task, fault error) {
	s.mu.Lock()
	if _, ok := s.entries[t]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, t)
	if i := slices.Index(s.order, t); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.mu.Unlock()

	s.cancelWake(t)
	if t.finish(fault, s.logger) {
		s.logger.Debug("Task stopped", F("scheduler", s.name), F("task", t.name), F("faulted", fault != nil))
	}
}

func (s *Scheduler) counts() (runnable, paused int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.paused {
			paused++
		} else {
			runnable++
		}
	}
	return runnable, paused
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() SchedulerStats {
	runnable, paused := s.counts()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	stats := SchedulerStats{
		Name:     s.name,
		Total:    runnable + paused,
		Runnable: runnable,
		Paused:   paused,
		Steps:    s.steps.Load(),
		Faults:   s.faults.Load(),
		Running:  running,
	}
	if last, ok := s.history.Last(); ok {
		stats.LastTask = last.TaskName
		stats.LastStep = last.FinishedAt
	}
	return stats
}

// RecentSteps returns up to limit step records, newest first.
func (s *Scheduler) RecentSteps(limit int) []StepRecord {
	return s.history.Recent(limit)
}
