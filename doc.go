// Package axon is a cooperative message-passing runtime for Go.
//
// Programs are built from tasks that own named inboxes and outboxes. A
// scheduler steps every runnable task in turn; a step does a bounded amount
// of work and returns. Tasks never call each other: they send messages to
// their own outboxes and a post office routes them along linkages to the
// inboxes of other tasks.
//
// # Quick Start
//
//	producer := axon.NewTask("producer", func(ctx context.Context, t *axon.Task) error {
//		if err := t.Send("hello", axon.BoxOutbox); err != nil {
//			return nil // backpressure: retry next step
//		}
//		return axon.ErrTaskDone
//	})
//	consumer := axon.NewTask("consumer", func(ctx context.Context, t *axon.Task) error {
//		if !t.DataReady(axon.BoxInbox) {
//			t.Pause()
//			return nil
//		}
//		msg, _ := t.Recv(axon.BoxInbox)
//		fmt.Println(msg)
//		return axon.ErrTaskDone
//	})
//	producer.Link(axon.Ref(producer, axon.BoxOutbox), axon.Ref(consumer, axon.BoxInbox))
//
//	axon.Activate(producer)
//	axon.Activate(consumer)
//	axon.RunForever(context.Background())
//
// # Key Concepts
//
// Linkage: a directed edge from one box to another. Linkages chain, so a
// message follows every hop until it reaches an inbox with no onward link.
// Capacity is checked only there.
//
// Backpressure: a bounded inbox refuses deliveries when full. Send returns an
// error matching ErrMailboxFull and the sender decides when to retry. Taking
// a message from an inbox wakes every upstream producer.
//
// Pause and wake: a task with nothing to do calls Pause. Delivery to one of
// its inboxes wakes it again, so an idle system costs nothing.
//
// Thread-bridge: NewThreadedTask runs blocking code on its own goroutine and
// forwards messages through bounded queues. Registry operations from that
// goroutine are marshalled onto the scheduler goroutine.
//
// # Default scheduler
//
// Activate and RunForever use a process-wide default scheduler. Libraries
// should prefer an explicit *Scheduler passed to Task.Activate.
package axon
