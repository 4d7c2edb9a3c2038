package core

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// PostOffice is the linkage registry. It owns the lock that guards every
// mailbox of the tasks bound to it, so a delivery, a collection or a relink
// always sees one consistent graph.
//
// Wake-ups decided under the lock are issued after it is released.
type PostOffice struct {
	mu     sync.Mutex
	links  []*Linkage
	logger Logger

	// gate admits one marshalled registry operation from a bridged
	// goroutine at a time.
	gate *semaphore.Weighted
}

// NewPostOffice creates an empty registry. A nil logger discards output.
func NewPostOffice(logger Logger) *PostOffice {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &PostOffice{
		logger: logger,
		gate:   semaphore.NewWeighted(1),
	}
}

var (
	defaultPostOffice     *PostOffice
	defaultPostOfficeOnce sync.Once
)

// DefaultPostOffice returns the registry used by tasks created without
// WithPostOffice.
func DefaultPostOffice() *PostOffice {
	defaultPostOfficeOnce.Do(func() {
		defaultPostOffice = NewPostOffice(nil)
	})
	return defaultPostOffice
}

// Link registers an edge from src to dst. creator may be nil.
//
// The source box must not already have a destination. Messages already
// sitting in a source inbox move on to the new terminal.
func (po *PostOffice) Link(src, dst BoxRef, mode LinkMode, creator *Task) (*Linkage, error) {
	if src.Task == nil || dst.Task == nil {
		return nil, ErrUnknownBox
	}
	if src.Task.po != po || dst.Task.po != po {
		return nil, ErrForeignPostOffice
	}

	po.mu.Lock()
	from, err := src.Task.lookupLocked(src.Box, mode.sourceKind())
	if err != nil {
		po.mu.Unlock()
		return nil, err
	}
	to, err := dst.Task.lookupLocked(dst.Box, mode.sinkKind())
	if err != nil {
		po.mu.Unlock()
		return nil, err
	}
	if from.target != nil {
		po.mu.Unlock()
		return nil, &LinkConflictError{Source: from.String(), Existing: from.target.String(), Wanted: to.String()}
	}
	if to.reaches(from) {
		po.mu.Unlock()
		return nil, ErrLinkCycle
	}

	l := &Linkage{id: uuid.New(), mode: mode, src: from, dst: to, creator: creator}
	from.target = to
	to.sources = append(to.sources, from)
	po.links = append(po.links, l)

	var wake *Task
	if from.kind == Inbox && from.localLen() > 0 {
		wake = po.moveStoredLocked(from)
	}
	po.mu.Unlock()

	po.logger.Debug("Linked", F("linkage", l.String()), F("id", l.id))
	if wake != nil {
		wake.Wake()
	}
	return l, nil
}

// moveStoredLocked hands the messages held by an inbox that just became a
// pass-through hop to its new terminal.
func (po *PostOffice) moveStoredLocked(from *Mailbox) *Task {
	term := from.terminal()
	pending := from.storage.PopAll()
	if term.kind == Outbox {
		return nil
	}
	for _, msg := range pending {
		term.storage.Push(msg)
	}
	return term.owner
}

// Unlink removes one edge. Unknown or already removed linkages are ignored.
func (po *PostOffice) Unlink(l *Linkage) {
	if l == nil {
		return
	}
	po.mu.Lock()
	removed := po.removeWhereLocked(func(x *Linkage) bool { return x == l })
	po.mu.Unlock()
	po.logRemoved(removed)
}

// UnlinkTask removes every edge in which t is source, sink or creator.
func (po *PostOffice) UnlinkTask(t *Task) int {
	po.mu.Lock()
	removed := po.removeWhereLocked(func(l *Linkage) bool { return l.touches(t) })
	po.mu.Unlock()
	po.logRemoved(removed)
	return len(removed)
}

// UnlinkBox removes every edge that starts or ends at ref.
func (po *PostOffice) UnlinkBox(ref BoxRef) int {
	po.mu.Lock()
	removed := po.removeWhereLocked(func(l *Linkage) bool {
		return (l.src.owner == ref.Task && l.src.name == ref.Box) ||
			(l.dst.owner == ref.Task && l.dst.name == ref.Box)
	})
	po.mu.Unlock()
	po.logRemoved(removed)
	return len(removed)
}

// UnlinkAll empties the registry.
func (po *PostOffice) UnlinkAll() int {
	po.mu.Lock()
	removed := po.removeWhereLocked(func(*Linkage) bool { return true })
	po.mu.Unlock()
	po.logRemoved(removed)
	return len(removed)
}

func (po *PostOffice) unlinkWhere(match func(*Linkage) bool) int {
	po.mu.Lock()
	removed := po.removeWhereLocked(match)
	po.mu.Unlock()
	po.logRemoved(removed)
	return len(removed)
}

func (po *PostOffice) removeWhereLocked(match func(*Linkage) bool) []*Linkage {
	var removed []*Linkage
	kept := po.links[:0]
	for _, l := range po.links {
		if match(l) {
			l.src.target = nil
			l.dst.removeSource(l.src)
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	clear(po.links[len(kept):])
	po.links = kept
	return removed
}

func (po *PostOffice) logRemoved(removed []*Linkage) {
	for _, l := range removed {
		po.logger.Debug("Unlinked", F("linkage", l.String()), F("id", l.id))
	}
}

// Linkages returns a snapshot of the registered edges in creation order.
func (po *PostOffice) Linkages() []*Linkage {
	po.mu.Lock()
	defer po.mu.Unlock()
	return slices.Clone(po.links)
}

// IsRegistered reports whether l is still in the registry.
func (po *PostOffice) IsRegistered(l *Linkage) bool {
	po.mu.Lock()
	defer po.mu.Unlock()
	return slices.Contains(po.links, l)
}

// LinkagesOf returns the edges touching t.
func (po *PostOffice) LinkagesOf(t *Task) []*Linkage {
	po.mu.Lock()
	defer po.mu.Unlock()
	var out []*Linkage
	for _, l := range po.links {
		if l.touches(t) {
			out = append(out, l)
		}
	}
	return out
}

// Deliver sends msg from the given box along its current chain. The box is
// looked up among outboxes first, then inboxes.
func (po *PostOffice) Deliver(msg any, from BoxRef) error {
	if from.Task == nil {
		return ErrUnknownBox
	}
	return po.deliverVia(msg, func() (*Mailbox, error) {
		if box, ok := from.Task.outboxes[from.Box]; ok {
			return box, nil
		}
		return from.Task.lookupLocked(from.Box, Inbox)
	})
}

func (po *PostOffice) deliver(msg any, t *Task, name string, kind BoxKind) error {
	return po.deliverVia(msg, func() (*Mailbox, error) { return t.lookupLocked(name, kind) })
}

// deliverVia resolves the source box with lookup under the graph lock and
// delivers msg from it.
func (po *PostOffice) deliverVia(msg any, lookup func() (*Mailbox, error)) error {
	po.mu.Lock()
	box, err := lookup()
	if err != nil {
		po.mu.Unlock()
		return err
	}
	wake, err := box.deliver(msg)
	po.mu.Unlock()

	if err != nil {
		return err
	}
	if wake != nil {
		wake.Wake()
	}
	return nil
}

func (po *PostOffice) collect(t *Task, name string) (any, error) {
	po.mu.Lock()
	box, err := t.lookupLocked(name, Inbox)
	if err != nil {
		po.mu.Unlock()
		return nil, err
	}
	msg, producers, err := box.collect()
	po.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, p := range producers {
		p.Wake()
	}
	return msg, nil
}
