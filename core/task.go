package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StepFunc is one resumable slice of a task's work. Returning nil yields to
// the scheduler. Returning ErrTaskDone completes the task. Any other error,
// or a panic, is a task fault.
type StepFunc func(ctx context.Context, t *Task) error

// TaskID uniquely identifies a task.
type TaskID uuid.UUID

// GenerateTaskID returns a fresh random id.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

func (id TaskID) IsZero() bool {
	return id == TaskID(uuid.Nil)
}

// TaskState is the lifecycle position of a task.
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskActive
	TaskStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskActive:
		return "active"
	case TaskStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var taskSeq atomic.Uint64

// =============================================================================
// Options
// =============================================================================

type taskOptions struct {
	po         *PostOffice
	inboxes    []string
	outboxes   []string
	capacities map[string]int
	closeDown  []func(*Task)
	thread     ThreadConfig
}

// TaskOption configures a task at construction.
type TaskOption func(*taskOptions)

// WithPostOffice binds the task to po instead of the default registry.
func WithPostOffice(po *PostOffice) TaskOption {
	return func(o *taskOptions) { o.po = po }
}

// WithInboxes replaces the default inbox set.
func WithInboxes(names ...string) TaskOption {
	return func(o *taskOptions) { o.inboxes = names }
}

// WithOutboxes replaces the default outbox set.
func WithOutboxes(names ...string) TaskOption {
	return func(o *taskOptions) { o.outboxes = names }
}

// WithInboxCapacity bounds an inbox from the start.
func WithInboxCapacity(name string, n int) TaskOption {
	return func(o *taskOptions) {
		if o.capacities == nil {
			o.capacities = make(map[string]int)
		}
		o.capacities[name] = n
	}
}

// WithCloseDown registers a hook that runs on the scheduler goroutine when
// the task stops, before its linkages are removed.
func WithCloseDown(fn func(*Task)) TaskOption {
	return func(o *taskOptions) { o.closeDown = append(o.closeDown, fn) }
}

// =============================================================================
// Task
// =============================================================================

// Task is a cooperative unit of work with named inboxes and outboxes.
type Task struct {
	id   TaskID
	name string
	po   *PostOffice
	step StepFunc

	// guarded by po.mu
	inboxes  map[string]*Mailbox
	outboxes map[string]*Mailbox

	mu        sync.Mutex
	state     TaskState
	sched     *Scheduler
	parent    *Task
	children  []*Task
	closeDown []func(*Task)
	release   []func()
	err       error
	stopped   chan struct{}
}

// NewTask creates a task that runs step each time it is scheduled.
// An empty name gets a generated one.
func NewTask(name string, step StepFunc, opts ...TaskOption) *Task {
	o := taskOptions{
		inboxes:  []string{BoxInbox, BoxControl},
		outboxes: []string{BoxOutbox, BoxSignal},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return newTask(name, step, o)
}

func newTask(name string, step StepFunc, o taskOptions) *Task {
	if name == "" {
		name = fmt.Sprintf("task-%d", taskSeq.Add(1))
	}
	if o.po == nil {
		o.po = DefaultPostOffice()
	}
	t := &Task{
		id:        GenerateTaskID(),
		name:      name,
		po:        o.po,
		step:      step,
		inboxes:   make(map[string]*Mailbox, len(o.inboxes)),
		outboxes:  make(map[string]*Mailbox, len(o.outboxes)),
		closeDown: o.closeDown,
		stopped:   make(chan struct{}),
	}
	for _, n := range o.inboxes {
		t.inboxes[n] = newMailbox(t, n, Inbox)
	}
	for _, n := range o.outboxes {
		t.outboxes[n] = newMailbox(t, n, Outbox)
	}
	for n, c := range o.capacities {
		if box, ok := t.inboxes[n]; ok {
			box.capacity = c
		}
	}
	return t
}

func (t *Task) ID() TaskID               { return t.id }
func (t *Task) Name() string             { return t.name }
func (t *Task) PostOffice() *PostOffice  { return t.po }
func (t *Task) Stopped() <-chan struct{} { return t.stopped }
func (t *Task) String() string           { return t.name }

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the fault that stopped the task, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Scheduler returns the scheduler the task was activated on, or nil.
func (t *Task) Scheduler() *Scheduler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sched
}

// Activate registers the task with s. Activating twice on the same
// scheduler is a no-op; a stopped task cannot be activated again.
func (t *Task) Activate(s *Scheduler) error {
	return s.AddTask(t)
}

func (t *Task) bind(s *Scheduler) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TaskStopped:
		return false, ErrTaskStopped
	case TaskActive:
		if t.sched != s {
			return false, ErrAlreadyActivated
		}
		return false, nil
	}
	t.state = TaskActive
	t.sched = s
	return true, nil
}

// =============================================================================
// Mailbox primitives
// =============================================================================

func (t *Task) lookupLocked(name string, kind BoxKind) (*Mailbox, error) {
	boxes := t.inboxes
	if kind == Outbox {
		boxes = t.outboxes
	}
	box, ok := boxes[name]
	if !ok {
		return nil, unknownBox(t.name, kind.String(), name)
	}
	return box, nil
}

// Send delivers msg through the named outbox. It never blocks; a full
// terminal inbox returns a *MailboxFullError.
func (t *Task) Send(msg any, box string) error {
	err := t.po.deliver(msg, t, box, Outbox)
	if full, ok := err.(*MailboxFullError); ok {
		if s := t.Scheduler(); s != nil {
			s.metrics.RecordSendRejected(full.Box, "mailbox_full")
		}
	}
	return err
}

// Deliver injects msg into one of the task's own inboxes, following any
// pass-through linkage out of it. Safe from any goroutine.
func (t *Task) Deliver(msg any, inbox string) error {
	return t.po.deliver(msg, t, inbox, Inbox)
}

// Recv pops the oldest message of an inbox. An empty inbox returns
// ErrEmptyMailbox.
func (t *Task) Recv(box string) (any, error) {
	return t.po.collect(t, box)
}

// DataReady reports whether the inbox holds a message.
func (t *Task) DataReady(box string) bool {
	return t.InboxLen(box) > 0
}

// InboxLen returns the number of messages held locally by an inbox, or 0
// for an unknown box.
func (t *Task) InboxLen(box string) int {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	if b, ok := t.inboxes[box]; ok {
		return b.localLen()
	}
	return 0
}

// AnyReady returns the first inbox, in name order, that holds a message.
func (t *Task) AnyReady() (string, bool) {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	for _, name := range sortedKeys(t.inboxes) {
		if t.inboxes[name].localLen() > 0 {
			return name, true
		}
	}
	return "", false
}

// IsFull reports whether a send through the outbox would meet backpressure now.
func (t *Task) IsFull(outbox string) bool {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	b, ok := t.outboxes[outbox]
	if !ok {
		return false
	}
	term := b.terminal()
	return term.kind == Inbox && term.full()
}

// SetInboxCapacity bounds an inbox. Unbounded removes the limit. Messages
// already held are kept even when above the new limit.
func (t *Task) SetInboxCapacity(box string, n int) error {
	if n < Unbounded {
		n = Unbounded
	}
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	b, err := t.lookupLocked(box, Inbox)
	if err != nil {
		return err
	}
	b.capacity = n
	return nil
}

// InboxCapacity returns the limit of an inbox, Unbounded if none.
func (t *Task) InboxCapacity(box string) (int, error) {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	b, err := t.lookupLocked(box, Inbox)
	if err != nil {
		return 0, err
	}
	return b.capacity, nil
}

// Inboxes returns the inbox names in sorted order.
func (t *Task) Inboxes() []string {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	return sortedKeys(t.inboxes)
}

// Outboxes returns the outbox names in sorted order.
func (t *Task) Outboxes() []string {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	return sortedKeys(t.outboxes)
}

func (t *Task) HasInbox(name string) bool {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	_, ok := t.inboxes[name]
	return ok
}

func (t *Task) HasOutbox(name string) bool {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	_, ok := t.outboxes[name]
	return ok
}

// AddInbox creates an inbox at runtime and returns its name. When name is
// taken a numeric suffix is appended.
func (t *Task) AddInbox(name string) string {
	return t.addBox(name, Inbox)
}

// AddOutbox creates an outbox at runtime and returns its name.
func (t *Task) AddOutbox(name string) string {
	return t.addBox(name, Outbox)
}

func (t *Task) addBox(name string, kind BoxKind) string {
	t.po.mu.Lock()
	defer t.po.mu.Unlock()
	boxes := t.inboxes
	if kind == Outbox {
		boxes = t.outboxes
	}
	unique := name
	for i := 1; ; i++ {
		if _, taken := boxes[unique]; !taken {
			break
		}
		unique = fmt.Sprintf("%s_%d", name, i)
	}
	boxes[unique] = newMailbox(t, unique, kind)
	return unique
}

// DeleteInbox unlinks and removes an inbox. Held messages are dropped.
func (t *Task) DeleteInbox(name string) error {
	return t.deleteBox(name, Inbox)
}

// DeleteOutbox unlinks and removes an outbox.
func (t *Task) DeleteOutbox(name string) error {
	return t.deleteBox(name, Outbox)
}

func (t *Task) deleteBox(name string, kind BoxKind) error {
	t.po.mu.Lock()
	box, err := t.lookupLocked(name, kind)
	if err != nil {
		t.po.mu.Unlock()
		return err
	}
	removed := t.po.removeWhereLocked(func(l *Linkage) bool { return l.src == box || l.dst == box })
	if kind == Outbox {
		delete(t.outboxes, name)
	} else {
		delete(t.inboxes, name)
	}
	t.po.mu.Unlock()
	t.po.logRemoved(removed)
	return nil
}

// =============================================================================
// Scheduling primitives
// =============================================================================

// Pause asks the scheduler to stop stepping the task until woken. It does
// not suspend the step in progress; the step must still return. An optional
// timeout wakes the task after that long.
func (t *Task) Pause(timeout ...time.Duration) {
	s := t.Scheduler()
	if s == nil {
		return
	}
	s.PauseTask(t)
	if len(timeout) > 0 && timeout[0] > 0 {
		s.wakeAfter(t, timeout[0])
	}
}

// Wake makes a paused task runnable. Safe from any goroutine.
func (t *Task) Wake() {
	if s := t.Scheduler(); s != nil {
		s.WakeTask(t)
	}
}

// Link registers a linkage on the task's post office with t recorded as
// creator, so it is removed when t stops.
func (t *Task) Link(src, dst BoxRef, mode ...LinkMode) (*Linkage, error) {
	m := LinkNormal
	if len(mode) > 0 {
		m = mode[0]
	}
	return t.po.Link(src, dst, m, t)
}

// Unlink removes a linkage.
func (t *Task) Unlink(l *Linkage) {
	t.po.Unlink(l)
}

// =============================================================================
// Children
// =============================================================================

// AddChildren makes t the owner of each child. A stopping child wakes t.
func (t *Task) AddChildren(children ...*Task) {
	for _, c := range children {
		c.mu.Lock()
		c.parent = t
		c.mu.Unlock()
	}
	t.mu.Lock()
	t.children = append(t.children, children...)
	t.mu.Unlock()
}

// RemoveChild drops ownership of c and removes the linkages t made that touch it.
func (t *Task) RemoveChild(c *Task) {
	t.mu.Lock()
	idx := slices.Index(t.children, c)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	t.children = slices.Delete(t.children, idx, idx+1)
	t.mu.Unlock()

	c.mu.Lock()
	if c.parent == t {
		c.parent = nil
	}
	c.mu.Unlock()

	t.po.unlinkWhere(func(l *Linkage) bool {
		return l.creator == t && (l.src.owner == c || l.dst.owner == c)
	})
}

// Children returns the owned child tasks in the order they were added.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.children)
}

// Parent returns the owning task, or nil.
func (t *Task) Parent() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parent
}

// Spawn adds child and activates it on t's scheduler.
func (t *Task) Spawn(child *Task) error {
	s := t.Scheduler()
	if s == nil {
		return ErrNotActivated
	}
	t.AddChildren(child)
	return child.Activate(s)
}

// ChildrenDone reports whether every owned child has stopped.
func (t *Task) ChildrenDone() bool {
	for _, c := range t.Children() {
		if c.State() != TaskStopped {
			return false
		}
	}
	return true
}

// =============================================================================
// Close-down
// =============================================================================

func (t *Task) onRelease(fn func()) {
	t.mu.Lock()
	t.release = append(t.release, fn)
	t.mu.Unlock()
}

// finish runs the close-down sequence. It returns false if the task had
// already stopped.
func (t *Task) finish(fault error, logger Logger) bool {
	t.mu.Lock()
	if t.state == TaskStopped {
		t.mu.Unlock()
		return false
	}
	hooks := slices.Clone(t.closeDown)
	release := slices.Clone(t.release)
	t.mu.Unlock()

	for _, fn := range hooks {
		runHook(t, fn, logger)
	}
	for _, fn := range release {
		fn()
	}

	t.mu.Lock()
	t.state = TaskStopped
	t.err = fault
	parent := t.parent
	t.mu.Unlock()

	t.po.UnlinkTask(t)
	if parent != nil {
		parent.Wake()
	}
	close(t.stopped)
	return true
}

func runHook(t *Task, fn func(*Task), logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Close-down hook panicked", F("task", t.name), F("panic", r))
		}
	}()
	fn(t)
}

// Snapshot returns a point-in-time view of the task.
func (t *Task) Snapshot() TaskStats {
	st := TaskStats{ID: t.id, Name: t.name, State: t.State(), Children: len(t.Children())}
	if s := t.Scheduler(); s != nil {
		st.Paused = s.IsTaskPaused(t)
	}
	t.po.mu.Lock()
	st.InboxLens = make(map[string]int, len(t.inboxes))
	for n, b := range t.inboxes {
		st.InboxLens[n] = b.localLen()
	}
	t.po.mu.Unlock()
	return st
}

func sortedKeys(m map[string]*Mailbox) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, strings.Compare)
	return keys
}

// =============================================================================
// Context Helper
// =============================================================================

type currentTaskKeyType struct{}

var currentTaskKey currentTaskKeyType

// CurrentTask returns the task whose step is running with ctx, or nil.
func CurrentTask(ctx context.Context) *Task {
	if v := ctx.Value(currentTaskKey); v != nil {
		return v.(*Task)
	}
	return nil
}

func withCurrentTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, currentTaskKey, t)
}
