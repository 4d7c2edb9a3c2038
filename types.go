package axon

import "github.com/Swind/go-axon/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the axon package for most use cases.

// Task is a schedulable unit of cooperative work with named inboxes and outboxes.
type Task = core.Task

// StepFunc is one cooperative step of a Task.
type StepFunc = core.StepFunc

// CoroutineFunc is the body of a coroutine task.
type CoroutineFunc = core.CoroutineFunc

// ThreadFunc is the body of a thread-bridged task.
type ThreadFunc = core.ThreadFunc

// Thread is the goroutine-side handle of a thread-bridged task.
type Thread = core.Thread

// Scheduler steps tasks cooperatively.
type Scheduler = core.Scheduler

// PostOffice is the linkage registry tasks deliver through.
type PostOffice = core.PostOffice

// Linkage is one registered edge between two boxes.
type Linkage = core.Linkage

type (
	BoxRef   = core.BoxRef
	LinkMode = core.LinkMode
	TaskID   = core.TaskID
)

// Link modes
const (
	LinkNormal            = core.LinkNormal
	LinkInboxPassthrough  = core.LinkInboxPassthrough
	LinkOutboxPassthrough = core.LinkOutboxPassthrough
)

// Standard box names
const (
	BoxInbox   = core.BoxInbox
	BoxControl = core.BoxControl
	BoxOutbox  = core.BoxOutbox
	BoxSignal  = core.BoxSignal
)

// Constructors
var (
	NewTask          = core.NewTask
	NewCoroutineTask = core.NewCoroutineTask
	NewThreadedTask  = core.NewThreadedTask
	NewScheduler     = core.NewScheduler
	Ref              = core.Ref
)

// Errors commonly checked with errors.Is
var (
	ErrMailboxFull              = core.ErrMailboxFull
	ErrDestinationAlreadyLinked = core.ErrDestinationAlreadyLinked
	ErrEmptyMailbox             = core.ErrEmptyMailbox
	ErrTaskDone                 = core.ErrTaskDone
)

// CurrentTask retrieves the task whose step is running from context
var CurrentTask = core.CurrentTask
