package core

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ThreadFunc is the body of a bridged task. It runs once, to completion, on
// its own goroutine and talks to the mailbox graph only through th.
// Returning nil or ErrTaskDone finishes normally.
type ThreadFunc func(ctx context.Context, th *Thread) error

// WithQueueLength sets the bound of every internal queue of a bridged task.
func WithQueueLength(n int) TaskOption {
	return func(o *taskOptions) { o.thread.QueueLength = n }
}

// WithRetryPolicy sets how Thread.SendWait retries under backpressure.
func WithRetryPolicy(p RetryPolicy) TaskOption {
	return func(o *taskOptions) { o.thread.Retry = p }
}

// WithThreadConfig applies a whole bridge configuration.
func WithThreadConfig(cfg ThreadConfig) TaskOption {
	return func(o *taskOptions) { o.thread = cfg }
}

// Thread is the goroutine side of a bridged task. Every inbox and outbox of
// the task has a bounded queue here; a shim step on the scheduler goroutine
// moves messages between the queues and the real boxes.
type Thread struct {
	task  *Task
	body  ThreadFunc
	limit int
	retry RetryPolicy

	qmu sync.RWMutex
	in  map[string]*boundedQueue
	out map[string]*boundedQueue

	ctx    context.Context
	cancel context.CancelFunc

	// wakeUp is signalled by the shim whenever it moved traffic.
	wakeUp chan struct{}
	cmds   chan threadCommand
	syncs  singleflight.Group

	// shim-only
	started bool

	done     atomic.Bool
	finished chan struct{}
	faultMu  sync.Mutex
	fault    *ThreadFaultError
}

type threadCommand struct {
	run   func() (any, error)
	reply chan threadResult
}

type threadResult struct {
	val any
	err error
}

// NewThreadedTask creates a task whose body runs on a dedicated goroutine.
// The task is reported stopped only after the body has returned and every
// queued outgoing message has reached its outbox.
func NewThreadedTask(name string, body ThreadFunc, opts ...TaskOption) *Task {
	o := taskOptions{
		inboxes:  []string{BoxInbox, BoxControl},
		outboxes: []string{BoxOutbox, BoxSignal},
		thread:   DefaultThreadConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.thread.QueueLength < 1 {
		o.thread.QueueLength = DefaultQueueLength
	}

	t := newTask(name, nil, o)
	th := &Thread{
		task:     t,
		body:     body,
		limit:    o.thread.QueueLength,
		retry:    o.thread.Retry,
		in:       make(map[string]*boundedQueue),
		out:      make(map[string]*boundedQueue),
		wakeUp:   make(chan struct{}, 1),
		cmds:     make(chan threadCommand, 1),
		finished: make(chan struct{}),
	}
	for _, n := range t.Inboxes() {
		th.in[n] = newBoundedQueue(th.limit)
	}
	for _, n := range t.Outboxes() {
		th.out[n] = newBoundedQueue(th.limit)
	}
	t.step = th.shimStep
	t.onRelease(th.stop)
	return t
}

// Task returns the scheduler-side task.
func (th *Thread) Task() *Task { return th.task }

// Context is cancelled when the task is stopped from outside.
func (th *Thread) Context() context.Context { return th.ctx }

// Finished is closed when the body has returned.
func (th *Thread) Finished() <-chan struct{} { return th.finished }

// =============================================================================
// Goroutine side
// =============================================================================

// Send queues msg for the named outbox. It never blocks; a full queue
// returns a *MailboxFullError.
func (th *Thread) Send(msg any, box string) error {
	q, err := th.queue(th.out, box, Outbox)
	if err != nil {
		return err
	}
	if !q.TryPush(msg) {
		return &MailboxFullError{Box: th.task.name + ":" + box, Len: q.Len(), Capacity: q.Limit()}
	}
	th.task.Wake()
	return nil
}

// SendWait retries Send under the thread's RetryPolicy until it succeeds,
// the policy gives up, or ctx ends. Retries happen early when the shim
// reports progress.
func (th *Thread) SendWait(ctx context.Context, msg any, box string) error {
	for attempt := 0; ; attempt++ {
		err := th.Send(msg, box)
		if !errors.Is(err, ErrMailboxFull) || !th.retry.allows(attempt) {
			return err
		}

		delay := th.retry.calculateDelay(attempt)
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-th.wakeUp:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// Recv pops the oldest message forwarded from the named inbox.
func (th *Thread) Recv(box string) (any, error) {
	q, err := th.queue(th.in, box, Inbox)
	if err != nil {
		return nil, err
	}
	msg, ok := q.Pop()
	if !ok {
		return nil, ErrEmptyMailbox
	}
	th.task.Wake()
	return msg, nil
}

func (th *Thread) DataReady(box string) bool {
	q, err := th.queue(th.in, box, Inbox)
	return err == nil && q.Len() > 0
}

// AnyReady returns the first inbox queue, in name order, holding a message.
func (th *Thread) AnyReady() (string, bool) {
	th.qmu.RLock()
	names := make([]string, 0, len(th.in))
	for n := range th.in {
		names = append(names, n)
	}
	th.qmu.RUnlock()
	slices.Sort(names)
	for _, n := range names {
		if th.DataReady(n) {
			return n, true
		}
	}
	return "", false
}

// Pause blocks the goroutine until the shim moves traffic, the timeout
// expires or the task is stopped. A zero timeout waits without limit.
func (th *Thread) Pause(timeout time.Duration) {
	if timeout <= 0 {
		select {
		case <-th.wakeUp:
		case <-th.ctx.Done():
		}
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-th.wakeUp:
	case <-timer.C:
	case <-th.ctx.Done():
	}
}

// Link registers a linkage from the scheduler goroutine and waits for it.
func (th *Thread) Link(src, dst BoxRef, mode ...LinkMode) (*Linkage, error) {
	v, err := th.call(func() (any, error) { return th.task.Link(src, dst, mode...) })
	if err != nil {
		return nil, err
	}
	return v.(*Linkage), nil
}

// Unlink removes a linkage from the scheduler goroutine.
func (th *Thread) Unlink(l *Linkage) error {
	_, err := th.call(func() (any, error) {
		th.task.Unlink(l)
		return nil, nil
	})
	return err
}

// AddInbox creates an inbox and its queue. It returns the unique name.
func (th *Thread) AddInbox(name string) (string, error) {
	v, err := th.call(func() (any, error) {
		n := th.task.AddInbox(name)
		th.qmu.Lock()
		th.in[n] = newBoundedQueue(th.limit)
		th.qmu.Unlock()
		return n, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AddOutbox creates an outbox and its queue. It returns the unique name.
func (th *Thread) AddOutbox(name string) (string, error) {
	v, err := th.call(func() (any, error) {
		n := th.task.AddOutbox(name)
		th.qmu.Lock()
		th.out[n] = newBoundedQueue(th.limit)
		th.qmu.Unlock()
		return n, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Sync waits for one full round trip through the scheduler goroutine.
// Concurrent callers share the same round trip.
func (th *Thread) Sync() error {
	_, err, _ := th.syncs.Do("sync", func() (any, error) {
		return th.call(func() (any, error) { return nil, nil })
	})
	return err
}

// call runs fn on the scheduler goroutine. Only one call per post office is
// in flight at a time.
func (th *Thread) call(fn func() (any, error)) (any, error) {
	gate := th.task.po.gate
	if err := gate.Acquire(th.ctx, 1); err != nil {
		return nil, err
	}
	defer gate.Release(1)

	cmd := threadCommand{run: fn, reply: make(chan threadResult, 1)}
	select {
	case th.cmds <- cmd:
	case <-th.ctx.Done():
		return nil, th.ctx.Err()
	}
	th.task.Wake()

	select {
	case r := <-cmd.reply:
		return r.val, r.err
	case <-th.ctx.Done():
		return nil, th.ctx.Err()
	}
}

func (th *Thread) queue(m map[string]*boundedQueue, box string, kind BoxKind) (*boundedQueue, error) {
	th.qmu.RLock()
	defer th.qmu.RUnlock()
	q, ok := m[box]
	if !ok {
		return nil, unknownBox(th.task.name, kind.String(), box)
	}
	return q, nil
}

func (th *Thread) run() {
	defer func() {
		if r := recover(); r != nil {
			th.setFault(&ThreadFaultError{TaskName: th.task.name, Panic: r, Stack: debug.Stack()})
		}
		th.done.Store(true)
		close(th.finished)
		th.task.Wake()
	}()

	err := th.body(th.ctx, th)
	stopping := th.ctx.Err() != nil && errors.Is(err, context.Canceled)
	if err != nil && !errors.Is(err, ErrTaskDone) && !stopping {
		th.setFault(&ThreadFaultError{TaskName: th.task.name, Cause: err})
	}
}

func (th *Thread) setFault(f *ThreadFaultError) {
	th.faultMu.Lock()
	defer th.faultMu.Unlock()
	if th.fault == nil {
		th.fault = f
	}
}

func (th *Thread) takeFault() *ThreadFaultError {
	th.faultMu.Lock()
	defer th.faultMu.Unlock()
	return th.fault
}

// =============================================================================
// Scheduler side
// =============================================================================

func (th *Thread) shimStep(ctx context.Context, t *Task) error {
	if !th.started {
		th.started = true
		// The goroutine outlives this step; only release cancels it.
		th.ctx, th.cancel = context.WithCancel(context.WithoutCancel(ctx))
		go th.run()
	}

	moved := th.forwardInbound()
	drained, err := th.drainOutbound()
	if err != nil {
		return err
	}
	th.runCommands()

	if moved+drained > 0 {
		select {
		case th.wakeUp <- struct{}{}:
		default:
		}
	}

	if f := th.takeFault(); f != nil {
		return f
	}
	if th.done.Load() && th.outboundEmpty() {
		return ErrTaskDone
	}

	t.Pause()
	return nil
}

// forwardInbound copies real inbox messages into the incoming queues while
// they have room. control goes last and waits until every other inbox has
// been forwarded, so data sent before a shutdown notice is seen first.
//
// A producer that keeps a data inbox backlogged faster than the goroutine
// drains it therefore holds control back indefinitely. Bound the upstream
// inbox with SetInboxCapacity, or use Scheduler.Shutdown, where that matters.
func (th *Thread) forwardInbound() int {
	names := th.task.Inboxes()
	if i := slices.Index(names, BoxControl); i >= 0 {
		names = append(slices.Delete(names, i, i+1), BoxControl)
	}

	moved := 0
	backlog := false
	for _, n := range names {
		if n == BoxControl && backlog {
			break
		}
		q, err := th.queue(th.in, n, Inbox)
		if err != nil {
			continue
		}
		for !q.Full() && th.task.DataReady(n) {
			msg, err := th.task.Recv(n)
			if err != nil {
				break
			}
			q.TryPush(msg)
			moved++
		}
		if th.task.DataReady(n) {
			backlog = true
		}
	}
	return moved
}

// drainOutbound moves queued outgoing messages into the real outboxes in
// box name order. It stops at the first box whose downstream inbox pushes
// back, so signal traffic never overtakes queued data.
func (th *Thread) drainOutbound() (int, error) {
	th.qmu.RLock()
	names := make([]string, 0, len(th.out))
	for n := range th.out {
		names = append(names, n)
	}
	th.qmu.RUnlock()
	slices.Sort(names)

	drained := 0
	for _, n := range names {
		q, _ := th.queue(th.out, n, Outbox)
		for {
			msg, ok := q.Peek()
			if !ok {
				break
			}
			if th.task.IsFull(n) {
				return drained, nil
			}
			if err := th.task.Send(msg, n); err != nil {
				if errors.Is(err, ErrMailboxFull) {
					return drained, nil
				}
				return drained, err
			}
			q.Pop()
			drained++
		}
	}
	return drained, nil
}

func (th *Thread) runCommands() {
	for {
		select {
		case cmd := <-th.cmds:
			val, err := cmd.run()
			cmd.reply <- threadResult{val: val, err: err}
		default:
			return
		}
	}
}

func (th *Thread) outboundEmpty() bool {
	th.qmu.RLock()
	defer th.qmu.RUnlock()
	for _, q := range th.out {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

func (th *Thread) stop() {
	if th.cancel != nil {
		th.cancel()
	}
}
