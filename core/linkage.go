package core

import (
	"fmt"

	"github.com/google/uuid"
)

// LinkMode selects which box namespace each end of a linkage lives in.
type LinkMode int

const (
	// LinkNormal joins an outbox to an inbox.
	LinkNormal LinkMode = iota
	// LinkInboxPassthrough forwards an inbox to another inbox, typically a
	// container handing its input to a child.
	LinkInboxPassthrough
	// LinkOutboxPassthrough forwards an outbox to another outbox, typically a
	// child publishing through its container.
	LinkOutboxPassthrough
)

func (m LinkMode) String() string {
	switch m {
	case LinkNormal:
		return "normal"
	case LinkInboxPassthrough:
		return "inbox-passthrough"
	case LinkOutboxPassthrough:
		return "outbox-passthrough"
	default:
		return fmt.Sprintf("LinkMode(%d)", int(m))
	}
}

func (m LinkMode) sourceKind() BoxKind {
	if m == LinkInboxPassthrough {
		return Inbox
	}
	return Outbox
}

func (m LinkMode) sinkKind() BoxKind {
	if m == LinkOutboxPassthrough {
		return Outbox
	}
	return Inbox
}

// Linkage is the handle of one registered edge.
type Linkage struct {
	id      uuid.UUID
	mode    LinkMode
	src     *Mailbox
	dst     *Mailbox
	creator *Task
}

func (l *Linkage) ID() uuid.UUID  { return l.id }
func (l *Linkage) Mode() LinkMode { return l.mode }
func (l *Linkage) Source() BoxRef { return l.src.Ref() }
func (l *Linkage) Sink() BoxRef   { return l.dst.Ref() }

// Creator is the task that asked for the linkage, or nil when it was made
// directly on the post office.
func (l *Linkage) Creator() *Task { return l.creator }

func (l *Linkage) String() string {
	return fmt.Sprintf("%s -> %s (%s)", l.src, l.dst, l.mode)
}

func (l *Linkage) touches(t *Task) bool {
	return l.src.owner == t || l.dst.owner == t || l.creator == t
}
