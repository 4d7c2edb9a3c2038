package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel errors
// =============================================================================

var (
	// ErrMailboxFull is the backpressure condition: the terminal inbox of a
	// delivery is at capacity. Callers are expected to retry later.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrDestinationAlreadyLinked is returned by Link when the source box already
	// has an outgoing linkage. Unlink it first.
	ErrDestinationAlreadyLinked = errors.New("box already linked to a destination")

	// ErrEmptyMailbox is returned by Recv on a box with no local messages.
	// Check DataReady first.
	ErrEmptyMailbox = errors.New("recv on empty mailbox")

	// ErrUnknownBox is returned when a box name does not exist on a task.
	ErrUnknownBox = errors.New("unknown box")

	// ErrLinkCycle is returned when a linkage would close a loop of boxes.
	ErrLinkCycle = errors.New("linkage would create a cycle")

	// ErrForeignPostOffice is returned when linking tasks bound to different post offices.
	ErrForeignPostOffice = errors.New("tasks belong to different post offices")

	// ErrTaskStopped is returned when activating or operating on a stopped task.
	ErrTaskStopped = errors.New("task stopped")

	// ErrTaskDone is returned by a step function to signal normal completion.
	ErrTaskDone = errors.New("task done")

	// ErrNotActivated is returned by operations that need a scheduler.
	ErrNotActivated = errors.New("task not activated")

	// ErrAlreadyActivated is returned when activating a task on a second scheduler.
	ErrAlreadyActivated = errors.New("task already active on another scheduler")

	// ErrSchedulerClosed is returned when adding a task after Shutdown.
	ErrSchedulerClosed = errors.New("scheduler shut down")
)

// =============================================================================
// Typed errors
// =============================================================================

// MailboxFullError carries the terminal box that rejected a send.
type MailboxFullError struct {
	Box      string
	Len      int
	Capacity int
}

func (e *MailboxFullError) Error() string {
	return fmt.Sprintf("mailbox full: %s holds %d of %d", e.Box, e.Len, e.Capacity)
}

// Is makes errors.Is(err, ErrMailboxFull) match.
func (e *MailboxFullError) Is(target error) bool {
	return target == ErrMailboxFull
}

// LinkConflictError reports the existing destination of a source box.
type LinkConflictError struct {
	Source   string
	Existing string
	Wanted   string
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("cannot link %s to %s: already linked to %s", e.Source, e.Wanted, e.Existing)
}

// Is makes errors.Is(err, ErrDestinationAlreadyLinked) match.
func (e *LinkConflictError) Is(target error) bool {
	return target == ErrDestinationAlreadyLinked
}

// TaskFaultError wraps an error or panic raised from a task's step.
type TaskFaultError struct {
	TaskName string
	TaskID   TaskID
	Cause    error
	Panic    any
	Stack    []byte
}

func (e *TaskFaultError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.TaskName, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskName, e.Cause)
}

func (e *TaskFaultError) Unwrap() error { return e.Cause }

// ThreadFaultError is a fault captured on a bridged goroutine and re-raised
// on the scheduler goroutine.
type ThreadFaultError struct {
	TaskName string
	Cause    error
	Panic    any
	Stack    []byte
}

func (e *ThreadFaultError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("thread of %s panicked: %v", e.TaskName, e.Panic)
	}
	return fmt.Sprintf("thread of %s failed: %v", e.TaskName, e.Cause)
}

func (e *ThreadFaultError) Unwrap() error { return e.Cause }

func unknownBox(owner, kind, name string) error {
	return fmt.Errorf("%w: %s has no %s %q", ErrUnknownBox, owner, kind, name)
}
