package core

import (
	"context"
	"iter"
)

// CoroutineFunc is a task body written as straight-line code. Each call to
// yield hands control back to the scheduler; the body resumes right after
// it on the next step. When yield returns false the task is stopping and
// the body must return.
type CoroutineFunc func(ctx context.Context, t *Task, yield func() bool) error

// NewCoroutineTask creates a task whose body keeps its own stack between
// steps. The body's ctx carries the first step's values and is cancelled
// only when the task stops.
func NewCoroutineTask(name string, body CoroutineFunc, opts ...TaskOption) *Task {
	t := NewTask(name, nil, opts...)

	var (
		next   func() (struct{}, bool)
		stop   func()
		result error
	)
	t.step = func(ctx context.Context, t *Task) error {
		if next == nil {
			bodyCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			next, stop = iter.Pull(func(yield func(struct{}) bool) {
				result = body(bodyCtx, t, func() bool { return yield(struct{}{}) })
			})
			t.onRelease(func() {
				cancel()
				stop()
			})
		}
		if _, more := next(); more {
			return nil
		}
		if result != nil {
			return result
		}
		return ErrTaskDone
	}
	return t
}
