package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// FaultHandler: Interface for handling task faults
// =============================================================================

// FaultHandler is called when a task's step returns an error or panics.
// The faulting task is stopped after the handler returns.
//
// Implementations should be thread-safe as they may be called from several schedulers.
type FaultHandler interface {
	// HandleFault is called once per faulting task.
	//
	// Parameters:
	// - ctx: The context the step ran with
	// - taskName: The name of the task that faulted
	// - taskID: The id of the task that faulted
	// - fault: The returned error, or the recovered panic value
	// - stackTrace: The stack trace at the time of a panic (nil for returned errors)
	HandleFault(ctx context.Context, taskName string, taskID TaskID, fault any, stackTrace []byte)
}

// DefaultFaultHandler provides a basic fault handler that logs to stdout.
type DefaultFaultHandler struct{}

// HandleFault prints fault information to stdout.
func (h *DefaultFaultHandler) HandleFault(ctx context.Context, taskName string, taskID TaskID, fault any, stackTrace []byte) {
	if len(stackTrace) > 0 {
		fmt.Printf("[Task %s %s] Fault: %v\nStack trace:\n%s", taskName, taskID, fault, stackTrace)
		return
	}
	fmt.Printf("[Task %s %s] Fault: %v\n", taskName, taskID, fault)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting runtime metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; they run on the scheduler goroutine.
type Metrics interface {
	// RecordStepDuration records how long one step of a task took.
	RecordStepDuration(taskName string, duration time.Duration)

	// RecordTaskFault records that a task faulted (error or panic).
	RecordTaskFault(taskName string, fault any)

	// RecordRunQueue records the runnable and paused task counts after a pass.
	RecordRunQueue(schedulerName string, runnable, paused int)

	// RecordSendRejected records a send refused by backpressure.
	//
	// Parameters:
	// - box: The terminal box that refused the message (e.g. "consumer:inbox")
	// - reason: Why the send was rejected (e.g. "mailbox_full")
	RecordSendRejected(box string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordStepDuration is a no-op.
func (m *NilMetrics) RecordStepDuration(taskName string, duration time.Duration) {}

// RecordTaskFault is a no-op.
func (m *NilMetrics) RecordTaskFault(taskName string, fault any) {}

// RecordRunQueue is a no-op.
func (m *NilMetrics) RecordRunQueue(schedulerName string, runnable, paused int) {}

// RecordSendRejected is a no-op.
func (m *NilMetrics) RecordSendRejected(box string, reason string) {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// IdlePolicy selects what RunForever does when every task is paused.
type IdlePolicy int

const (
	// IdleBlock parks the calling goroutine until a task is woken.
	IdleBlock IdlePolicy = iota
	// IdleSpin yields the processor and keeps passing.
	IdleSpin
)

func (p IdlePolicy) String() string {
	if p == IdleSpin {
		return "spin"
	}
	return "block"
}

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels the scheduler in logs and metrics. Defaults to "scheduler".
	Name string

	// SlowMo is a fixed delay inserted between whole passes. Zero disables it.
	SlowMo time.Duration

	// IdlePolicy controls RunForever when all tasks are paused. Defaults to IdleBlock.
	IdlePolicy IdlePolicy

	// HistorySize bounds the ring of recent step records. Defaults to 100.
	HistorySize int

	// FaultHandler is called when a task faults. Defaults to DefaultFaultHandler.
	FaultHandler FaultHandler

	// Metrics is called to record runtime metrics. Defaults to NilMetrics.
	Metrics Metrics

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:         "scheduler",
		IdlePolicy:   IdleBlock,
		HistorySize:  defaultStepHistoryCapacity,
		FaultHandler: &DefaultFaultHandler{},
		Metrics:      &NilMetrics{},
		Logger:       NewNoOpLogger(),
	}
}

// =============================================================================
// ThreadConfig: Configuration for bridged tasks
// =============================================================================

// DefaultQueueLength is the bridge queue length used when none is configured.
const DefaultQueueLength = 1000

// ThreadConfig holds defaults for thread-bridged tasks.
type ThreadConfig struct {
	// QueueLength bounds every internal inbox/outbox queue of the bridge.
	QueueLength int

	// Retry governs Thread.SendWait.
	Retry RetryPolicy
}

// DefaultThreadConfig returns the bridge defaults.
func DefaultThreadConfig() ThreadConfig {
	return ThreadConfig{
		QueueLength: DefaultQueueLength,
		Retry:       DefaultRetryPolicy(),
	}
}
