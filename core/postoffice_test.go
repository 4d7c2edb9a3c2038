package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostOffice_SingleDestination verifies a source box has at most one destination
// Given: A.outbox linked to X.inbox
// When: A.outbox is linked to Y.inbox without unlinking first
// Then: Link fails with ErrDestinationAlreadyLinked, and succeeds after Unlink
func TestPostOffice_SingleDestination(t *testing.T) {
	// Arrange
	po := NewPostOffice(nil)
	a := idleTask("A", po)
	x := idleTask("X", po)
	y := idleTask("Y", po)

	first, err := po.Link(Ref(a, BoxOutbox), Ref(x, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)

	// Act
	_, err = po.Link(Ref(a, BoxOutbox), Ref(y, BoxInbox), LinkNormal, nil)

	// Assert
	require.ErrorIs(t, err, ErrDestinationAlreadyLinked)
	var conflict *LinkConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "X:inbox", conflict.Existing)
	assert.Equal(t, "Y:inbox", conflict.Wanted)

	po.Unlink(first)
	second, err := po.Link(Ref(a, BoxOutbox), Ref(y, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	assert.True(t, po.IsRegistered(second))
	assert.False(t, po.IsRegistered(first))
}

// TestPostOffice_ChainDeliveryAnyLinkOrder verifies chain resolution at send time
// Given: A chain A.outbox -> B.outbox -> C.inbox -> D.inbox built in every possible order
// When: A sends one message after the chain is complete
// Then: The message arrives exactly once, unmodified, at D.inbox and nowhere else
func TestPostOffice_ChainDeliveryAnyLinkOrder(t *testing.T) {
	type hop struct {
		src, dst func(a, b, c, d *Task) BoxRef
		mode     LinkMode
	}
	hops := []hop{
		{
			src:  func(a, b, c, d *Task) BoxRef { return Ref(a, BoxOutbox) },
			dst:  func(a, b, c, d *Task) BoxRef { return Ref(b, BoxOutbox) },
			mode: LinkOutboxPassthrough,
		},
		{
			src:  func(a, b, c, d *Task) BoxRef { return Ref(b, BoxOutbox) },
			dst:  func(a, b, c, d *Task) BoxRef { return Ref(c, BoxInbox) },
			mode: LinkNormal,
		},
		{
			src:  func(a, b, c, d *Task) BoxRef { return Ref(c, BoxInbox) },
			dst:  func(a, b, c, d *Task) BoxRef { return Ref(d, BoxInbox) },
			mode: LinkInboxPassthrough,
		},
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, order := range orders {
		po := NewPostOffice(nil)
		a, b, c, d := idleTask("A", po), idleTask("B", po), idleTask("C", po), idleTask("D", po)
		for _, i := range order {
			_, err := po.Link(hops[i].src(a, b, c, d), hops[i].dst(a, b, c, d), hops[i].mode, nil)
			require.NoError(t, err, "order %v hop %d", order, i)
		}

		msg := struct{ payload string }{"hello"}
		require.NoError(t, a.Send(msg, BoxOutbox))

		assert.Equal(t, 1, d.InboxLen(BoxInbox), "order %v", order)
		assert.Equal(t, 0, c.InboxLen(BoxInbox), "order %v", order)
		got, err := d.Recv(BoxInbox)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
		assert.False(t, d.DataReady(BoxInbox))
	}
}

// TestPostOffice_AsymmetricWake verifies who is woken on delivery and on collection
// Given: A.outbox -> B.outbox -> C.inbox -> D.inbox, all tasks paused
// When: A sends, then the A link is replaced by E.outbox -> B.outbox, then D collects
// Then: Delivery wakes only D; collection wakes B and E but not A or C
func TestPostOffice_AsymmetricWake(t *testing.T) {
	// Arrange
	po := NewPostOffice(nil)
	s, _, _ := newTestScheduler(t)
	a, b, c, d, e := idleTask("A", po), idleTask("B", po), idleTask("C", po), idleTask("D", po), idleTask("E", po)
	activatePaused(t, s, a, b, c, d, e)

	la, err := po.Link(Ref(a, BoxOutbox), Ref(b, BoxOutbox), LinkOutboxPassthrough, nil)
	require.NoError(t, err)
	_, err = po.Link(Ref(b, BoxOutbox), Ref(c, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	_, err = po.Link(Ref(c, BoxInbox), Ref(d, BoxInbox), LinkInboxPassthrough, nil)
	require.NoError(t, err)

	// Act - deliver
	require.NoError(t, a.Send("m1", BoxOutbox))

	// Assert - only the tail owner woke
	assert.False(t, s.IsTaskPaused(d))
	for _, task := range []*Task{a, b, c, e} {
		assert.True(t, s.IsTaskPaused(task), "%s should still be paused", task.Name())
	}

	// Act - rewire upstream, then collect
	pauseAll(s, d)
	po.Unlink(la)
	_, err = po.Link(Ref(e, BoxOutbox), Ref(b, BoxOutbox), LinkOutboxPassthrough, nil)
	require.NoError(t, err)

	_, err = d.Recv(BoxInbox)
	require.NoError(t, err)

	// Assert - current upstream outbox owners woke
	assert.False(t, s.IsTaskPaused(b))
	assert.False(t, s.IsTaskPaused(e))
	assert.True(t, s.IsTaskPaused(a), "unlinked producer must not be woken")
	assert.True(t, s.IsTaskPaused(c), "inbox-only hop must not be woken")
}

// TestPostOffice_BackpressureBoundary verifies capacity is checked at the terminal only
// Given: A.outbox -> B.inbox -> C.inbox with capacity 1 on B and 3 on C
// When: A sends until rejected, C receives one, A sends again
// Then: Exactly 3 sends succeed, the 4th fails with ErrMailboxFull naming C, and one more fits after a recv
func TestPostOffice_BackpressureBoundary(t *testing.T) {
	// Arrange
	po := NewPostOffice(nil)
	s, _, m := newTestScheduler(t)
	a := idleTask("A", po)
	b := idleTask("B", po, WithInboxCapacity(BoxInbox, 1))
	c := idleTask("C", po, WithInboxCapacity(BoxInbox, 3))
	activatePaused(t, s, a, b, c)
	_, err := po.Link(Ref(a, BoxOutbox), Ref(b, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	_, err = po.Link(Ref(b, BoxInbox), Ref(c, BoxInbox), LinkInboxPassthrough, nil)
	require.NoError(t, err)

	// Act
	for i := range 3 {
		require.NoError(t, a.Send(i, BoxOutbox), "send %d", i)
	}
	err = a.Send(3, BoxOutbox)

	// Assert
	require.ErrorIs(t, err, ErrMailboxFull)
	var full *MailboxFullError
	require.True(t, errors.As(err, &full))
	assert.Equal(t, "C:inbox", full.Box)
	assert.Equal(t, 3, full.Capacity)
	assert.True(t, a.IsFull(BoxOutbox))
	assert.Equal(t, 1, m.Rejected("C:inbox/mailbox_full"))

	_, err = c.Recv(BoxInbox)
	require.NoError(t, err)
	require.NoError(t, a.Send(4, BoxOutbox))
	require.ErrorIs(t, a.Send(5, BoxOutbox), ErrMailboxFull)
}

// TestPostOffice_DirectLinkScenario verifies backpressure between two directly linked tasks
// Given: A.outbox linked to B.inbox with capacity 5
// When: A sends 6 messages, B receives 3, A sends 4 more
// Then: The 6th send fails, then exactly 3 more succeed before the next failure
func TestPostOffice_DirectLinkScenario(t *testing.T) {
	po := NewPostOffice(nil)
	a := idleTask("A", po)
	b := idleTask("B", po, WithInboxCapacity(BoxInbox, 5))
	_, err := po.Link(Ref(a, BoxOutbox), Ref(b, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, a.Send(i, BoxOutbox))
	}
	require.ErrorIs(t, a.Send(5, BoxOutbox), ErrMailboxFull)

	for want := range 3 {
		got, err := b.Recv(BoxInbox)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for i := range 3 {
		require.NoError(t, a.Send(10+i, BoxOutbox))
	}
	require.ErrorIs(t, a.Send(13, BoxOutbox), ErrMailboxFull)
	assert.Equal(t, 5, b.InboxLen(BoxInbox))
}

// TestPostOffice_RecvEmpty verifies reading an empty inbox is a protocol error
func TestPostOffice_RecvEmpty(t *testing.T) {
	po := NewPostOffice(nil)
	a := idleTask("A", po)

	_, err := a.Recv(BoxInbox)
	assert.ErrorIs(t, err, ErrEmptyMailbox)

	_, err = a.Recv("nope")
	assert.ErrorIs(t, err, ErrUnknownBox)
}

// TestPostOffice_UnlinkedOutboxDiscards verifies an outbox with no destination drops traffic
func TestPostOffice_UnlinkedOutboxDiscards(t *testing.T) {
	po := NewPostOffice(nil)
	a := idleTask("A", po)

	for i := range 10 {
		require.NoError(t, a.Send(i, BoxOutbox))
	}
	assert.False(t, a.IsFull(BoxOutbox))
	assert.Equal(t, 0, a.InboxLen(BoxInbox))
}

// TestPostOffice_LinkMovesHeldMessages verifies an inbox that becomes a pass-through hands on its messages
// Given: Two messages sitting in C.inbox
// When: C.inbox is linked through to D.inbox
// Then: D.inbox holds both messages in order and D is woken
func TestPostOffice_LinkMovesHeldMessages(t *testing.T) {
	po := NewPostOffice(nil)
	s, _, _ := newTestScheduler(t)
	c, d := idleTask("C", po), idleTask("D", po)
	activatePaused(t, s, c, d)

	require.NoError(t, c.Deliver("first", BoxInbox))
	require.NoError(t, c.Deliver("second", BoxInbox))

	_, err := po.Link(Ref(c, BoxInbox), Ref(d, BoxInbox), LinkInboxPassthrough, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, c.InboxLen(BoxInbox))
	assert.False(t, s.IsTaskPaused(d))
	first, _ := d.Recv(BoxInbox)
	second, _ := d.Recv(BoxInbox)
	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
}

// TestPostOffice_LinkValidation verifies rejected link requests
// Main test items:
// 1. Unknown box names
// 2. Wrong namespace for the mode
// 3. Cycles
// 4. Tasks on different post offices
func TestPostOffice_LinkValidation(t *testing.T) {
	po := NewPostOffice(nil)
	a, b := idleTask("A", po), idleTask("B", po)
	other := idleTask("Other", NewPostOffice(nil))

	_, err := po.Link(Ref(a, "missing"), Ref(b, BoxInbox), LinkNormal, nil)
	assert.ErrorIs(t, err, ErrUnknownBox)

	// inbox name looked up among outboxes in normal mode
	_, err = po.Link(Ref(a, BoxInbox), Ref(b, BoxInbox), LinkNormal, nil)
	assert.ErrorIs(t, err, ErrUnknownBox)

	_, err = po.Link(Ref(a, BoxInbox), Ref(b, BoxInbox), LinkInboxPassthrough, nil)
	require.NoError(t, err)
	_, err = po.Link(Ref(b, BoxInbox), Ref(a, BoxInbox), LinkInboxPassthrough, nil)
	assert.ErrorIs(t, err, ErrLinkCycle)
	_, err = po.Link(Ref(b, BoxControl), Ref(b, BoxControl), LinkInboxPassthrough, nil)
	assert.ErrorIs(t, err, ErrLinkCycle)

	_, err = po.Link(Ref(a, BoxOutbox), Ref(other, BoxInbox), LinkNormal, nil)
	assert.ErrorIs(t, err, ErrForeignPostOffice)
}

// TestPostOffice_UnlinkTask verifies every linkage touching a task is removed
// Given: Linkages where T is source, sink, and creator of an unrelated edge
// When: UnlinkTask(T) is called
// Then: All three are gone and unrelated linkages stay
func TestPostOffice_UnlinkTask(t *testing.T) {
	po := NewPostOffice(nil)
	a, b, c, target := idleTask("A", po), idleTask("B", po), idleTask("C", po), idleTask("T", po)

	asSource, err := po.Link(Ref(target, BoxOutbox), Ref(a, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	asSink, err := po.Link(Ref(b, BoxOutbox), Ref(target, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	asCreator, err := target.Link(Ref(c, BoxOutbox), Ref(a, BoxControl))
	require.NoError(t, err)
	unrelated, err := po.Link(Ref(a, BoxOutbox), Ref(b, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)

	removed := po.UnlinkTask(target)

	assert.Equal(t, 3, removed)
	assert.False(t, po.IsRegistered(asSource))
	assert.False(t, po.IsRegistered(asSink))
	assert.False(t, po.IsRegistered(asCreator))
	assert.True(t, po.IsRegistered(unrelated))
	assert.Equal(t, target, asCreator.Creator())

	// c.outbox is free again
	_, err = po.Link(Ref(c, BoxOutbox), Ref(b, BoxControl), LinkNormal, nil)
	assert.NoError(t, err)
}

// TestPostOffice_UnlinkBoxAndAll verifies bulk removal helpers
func TestPostOffice_UnlinkBoxAndAll(t *testing.T) {
	po := NewPostOffice(nil)
	a, b := idleTask("A", po), idleTask("B", po)

	_, err := po.Link(Ref(a, BoxOutbox), Ref(b, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)
	_, err = po.Link(Ref(a, BoxSignal), Ref(b, BoxControl), LinkNormal, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, po.UnlinkBox(Ref(b, BoxInbox)))
	assert.Len(t, po.Linkages(), 1)
	assert.Len(t, po.LinkagesOf(a), 1)

	assert.Equal(t, 1, po.UnlinkAll())
	assert.Empty(t, po.Linkages())

	// Unlink of a removed linkage is a no-op
	po.Unlink(nil)
}

// TestPostOffice_DefaultSingleton verifies tasks without WithPostOffice share one registry
func TestPostOffice_DefaultSingleton(t *testing.T) {
	a := NewTask("a", nil)
	b := NewTask("b", nil)
	assert.Same(t, DefaultPostOffice(), a.PostOffice())
	assert.Same(t, a.PostOffice(), b.PostOffice())
}

// TestPostOffice_DeliverResolvesBoxKindAtomically verifies Deliver picks outbox or inbox under one lock
// Given: A task with an inbox and an outbox both named "shared", the outbox linked to a sink
// When: Deliver runs from "shared" while the outbox is deleted concurrently
// Then: Every message lands either at the sink or in the task's own inbox, never lost or misrouted
func TestPostOffice_DeliverResolvesBoxKindAtomically(t *testing.T) {
	// Arrange
	po := NewPostOffice(nil)
	src := NewTask("src", nil, WithPostOffice(po), WithInboxes("shared"), WithOutboxes("shared"))
	sink := NewTask("sink", nil, WithPostOffice(po))
	_, err := po.Link(Ref(src, "shared"), Ref(sink, BoxInbox), LinkNormal, nil)
	require.NoError(t, err)

	// Act
	const n = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, po.Deliver(i, Ref(src, "shared")))
		}
	}()
	require.NoError(t, src.DeleteOutbox("shared"))
	wg.Wait()

	// Assert
	assert.Equal(t, n, sink.InboxLen(BoxInbox)+src.InboxLen("shared"))
	assert.False(t, src.HasOutbox("shared"))
	require.NoError(t, po.Deliver("after", Ref(src, "shared")))
	assert.True(t, src.DataReady("shared"))
}
