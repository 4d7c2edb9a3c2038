package core

import "time"

// StepRecord captures one completed step of a task.
type StepRecord struct {
	TaskID     TaskID
	TaskName   string
	Scheduler  string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Outcome    StepOutcome
}

// StepOutcome classifies how a step ended.
type StepOutcome int

const (
	// StepYielded means the task returned control and stays scheduled.
	StepYielded StepOutcome = iota
	// StepCompleted means the task signalled completion.
	StepCompleted
	// StepFaulted means the step returned an error or panicked.
	StepFaulted
)

func (o StepOutcome) String() string {
	switch o {
	case StepYielded:
		return "yielded"
	case StepCompleted:
		return "completed"
	case StepFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name     string
	Total    int
	Runnable int
	Paused   int
	Steps    int64
	Faults   int64
	Running  bool
	LastTask string
	LastStep time.Time
}

// TaskStats is a point-in-time view of one task's mailboxes.
type TaskStats struct {
	ID        TaskID
	Name      string
	State     TaskState
	Paused    bool
	InboxLens map[string]int
	Children  int
}
