package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// recordingFaultHandler captures every fault it is handed.
type recordingFaultHandler struct {
	mu    sync.Mutex
	calls []faultCall
}

type faultCall struct {
	TaskName string
	TaskID   TaskID
	Fault    any
	Stack    []byte
}

func (h *recordingFaultHandler) HandleFault(ctx context.Context, taskName string, taskID TaskID, fault any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, faultCall{TaskName: taskName, TaskID: taskID, Fault: fault, Stack: stackTrace})
}

func (h *recordingFaultHandler) Calls() []faultCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]faultCall(nil), h.calls...)
}

// recordingMetrics counts calls per method.
type recordingMetrics struct {
	mu       sync.Mutex
	steps    map[string]int
	faults   map[string]int
	rejected map[string]int
	passes   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		steps:    make(map[string]int),
		faults:   make(map[string]int),
		rejected: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordStepDuration(taskName string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[taskName]++
}

func (m *recordingMetrics) RecordTaskFault(taskName string, fault any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[taskName]++
}

func (m *recordingMetrics) RecordRunQueue(schedulerName string, runnable, paused int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes++
}

func (m *recordingMetrics) RecordSendRejected(box, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[box+"/"+reason]++
}

func (m *recordingMetrics) Rejected(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[key]
}

func (m *recordingMetrics) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

func (m *recordingMetrics) Steps(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[task]
}

func (m *recordingMetrics) Faults(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults[task]
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingFaultHandler, *recordingMetrics) {
	t.Helper()
	fh := &recordingFaultHandler{}
	m := newRecordingMetrics()
	s := NewScheduler(&SchedulerConfig{
		Name:         t.Name(),
		FaultHandler: fh,
		Metrics:      m,
		Logger:       NewNoOpLogger(),
	})
	return s, fh, m
}

// idleTask never finishes and pauses after every step.
func idleTask(name string, po *PostOffice, opts ...TaskOption) *Task {
	opts = append([]TaskOption{WithPostOffice(po)}, opts...)
	return NewTask(name, func(ctx context.Context, t *Task) error {
		t.Pause()
		return nil
	}, opts...)
}

// activatePaused activates every task on s and pauses it, so a later wake is observable.
func activatePaused(t *testing.T, s *Scheduler, tasks ...*Task) {
	t.Helper()
	for _, task := range tasks {
		if err := task.Activate(s); err != nil {
			t.Fatalf("Activate(%s): %v", task.Name(), err)
		}
		s.PauseTask(task)
	}
}

func pauseAll(s *Scheduler, tasks ...*Task) {
	for _, task := range tasks {
		s.PauseTask(task)
	}
}
