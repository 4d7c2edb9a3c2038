package core

// Unbounded is the capacity of a mailbox with no limit.
const Unbounded = -1

// BoxKind tells inboxes from outboxes.
type BoxKind int

const (
	Inbox BoxKind = iota
	Outbox
)

func (k BoxKind) String() string {
	if k == Outbox {
		return "outbox"
	}
	return "inbox"
}

// Default box names every task gets unless overridden.
const (
	BoxInbox   = "inbox"
	BoxControl = "control"
	BoxOutbox  = "outbox"
	BoxSignal  = "signal"
)

// Mailbox is a named, directional box owned by one task.
//
// Only inboxes hold messages. A delivery follows the target chain as it is
// at call time and stops at the last hop (the terminal). If the terminal is an
// outbox nobody listens and the message is dropped.
//
// All fields are guarded by the owning post office lock.
type Mailbox struct {
	owner    *Task
	name     string
	kind     BoxKind
	storage  messageQueue
	capacity int

	target  *Mailbox
	sources []*Mailbox
}

func newMailbox(owner *Task, name string, kind BoxKind) *Mailbox {
	b := &Mailbox{owner: owner, name: name, kind: kind, capacity: Unbounded}
	if kind == Inbox {
		b.storage = newMessageQueue()
	}
	return b
}

func (b *Mailbox) Owner() *Task   { return b.owner }
func (b *Mailbox) Name() string   { return b.name }
func (b *Mailbox) Kind() BoxKind  { return b.kind }
func (b *Mailbox) Ref() BoxRef    { return BoxRef{Task: b.owner, Box: b.name} }
func (b *Mailbox) String() string { return b.owner.Name() + ":" + b.name }

// terminal resolves the last hop of the chain starting at b.
func (b *Mailbox) terminal() *Mailbox {
	for b.target != nil {
		b = b.target
	}
	return b
}

func (b *Mailbox) localLen() int {
	return b.storage.Len()
}

func (b *Mailbox) full() bool {
	return b.capacity != Unbounded && b.storage.Len() >= b.capacity
}

// deliver appends msg at the terminal of b. It returns the task to wake, or
// nil when the message was dropped at an outbox.
func (b *Mailbox) deliver(msg any) (*Task, error) {
	term := b.terminal()
	if term.kind == Outbox {
		return nil, nil
	}
	if term.full() {
		return nil, &MailboxFullError{Box: term.String(), Len: term.storage.Len(), Capacity: term.capacity}
	}
	term.storage.Push(msg)
	return term.owner, nil
}

// collect pops the oldest local message and reports the owners of every
// outbox upstream of b at this moment. The collector itself is left out.
func (b *Mailbox) collect() (any, []*Task, error) {
	msg, ok := b.storage.Pop()
	if !ok {
		return nil, nil, ErrEmptyMailbox
	}
	return msg, b.upstreamProducers(), nil
}

func (b *Mailbox) upstreamProducers() []*Task {
	var owners []*Task
	seen := map[*Task]bool{b.owner: true}
	visited := map[*Mailbox]bool{b: true}
	stack := append([]*Mailbox(nil), b.sources...)
	for len(stack) > 0 {
		n := len(stack) - 1
		box := stack[n]
		stack = stack[:n]
		if visited[box] {
			continue
		}
		visited[box] = true
		if box.kind == Outbox && !seen[box.owner] {
			seen[box.owner] = true
			owners = append(owners, box.owner)
		}
		stack = append(stack, box.sources...)
	}
	return owners
}

// reaches reports whether following target pointers from b arrives at other.
func (b *Mailbox) reaches(other *Mailbox) bool {
	for box := b; box != nil; box = box.target {
		if box == other {
			return true
		}
	}
	return false
}

func (b *Mailbox) removeSource(src *Mailbox) {
	for i, s := range b.sources {
		if s == src {
			b.sources = append(b.sources[:i], b.sources[i+1:]...)
			return
		}
	}
}

// BoxRef names one box of one task.
type BoxRef struct {
	Task *Task
	Box  string
}

// Ref is shorthand for BoxRef{Task: t, Box: box}.
func Ref(t *Task, box string) BoxRef {
	return BoxRef{Task: t, Box: box}
}

func (r BoxRef) String() string {
	if r.Task == nil {
		return "<nil>:" + r.Box
	}
	return r.Task.Name() + ":" + r.Box
}
