package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Swind/go-axon/config"
	"github.com/Swind/go-axon/core"
)

// produceBatch bounds the numbers sent per producer step.
const produceBatch = 16

// pipeline is the demo graph: producer -> squarer (bridged) -> summer.
type pipeline struct {
	producer *core.Task
	squarer  *core.Task
	summer   *core.Task
}

func (p *pipeline) tasks() []*core.Task {
	return []*core.Task{p.producer, p.squarer, p.summer}
}

// newPipeline wires the demo tasks on po. count numbers are produced; the
// bridged squarer sleeps work per item to stand in for blocking I/O.
func newPipeline(po *core.PostOffice, cfg *config.Config, count int, work time.Duration, out io.Writer) (*pipeline, error) {
	next := 0
	producer := core.NewTask("producer", func(ctx context.Context, t *core.Task) error {
		for i := 0; i < produceBatch && next < count; i++ {
			if err := t.Send(next, core.BoxOutbox); err != nil {
				// Woken when the squarer drains its inbox.
				t.Pause()
				return nil
			}
			next++
		}
		if next < count {
			return nil
		}
		if err := t.Send(core.ProducerFinished{Sender: t.Name()}, core.BoxSignal); err != nil {
			t.Pause()
			return nil
		}
		return core.ErrTaskDone
	}, core.WithPostOffice(po))

	squarer := core.NewThreadedTask("squarer", func(ctx context.Context, th *core.Thread) error {
		square := func() error {
			msg, err := th.Recv(core.BoxInbox)
			if err != nil {
				return err
			}
			n, ok := msg.(int)
			if !ok {
				return fmt.Errorf("squarer: unexpected %T", msg)
			}
			if work > 0 {
				time.Sleep(work)
			}
			return th.SendWait(ctx, n*n, core.BoxOutbox)
		}

		for {
			if th.DataReady(core.BoxInbox) {
				if err := square(); err != nil {
					return err
				}
				continue
			}
			if th.DataReady(core.BoxControl) {
				msg, err := th.Recv(core.BoxControl)
				if err != nil {
					return err
				}
				if !core.IsShutdownSignal(msg) {
					continue
				}
				// Data forwarded together with the notice is still ours.
				for th.DataReady(core.BoxInbox) {
					if err := square(); err != nil {
						return err
					}
				}
				return th.SendWait(ctx, core.ProducerFinished{Sender: th.Task().Name()}, core.BoxSignal)
			}
			th.Pause(0)
			if ctx.Err() != nil {
				return nil
			}
		}
	}, core.WithPostOffice(po), core.WithThreadConfig(cfg.ThreadConfig()))

	var sum, received int
	summer := core.NewTask("summer", func(ctx context.Context, t *core.Task) error {
		for t.DataReady(core.BoxInbox) {
			msg, err := t.Recv(core.BoxInbox)
			if err != nil {
				return err
			}
			sum += msg.(int)
			received++
		}
		if _, done := core.CheckControl(t); done {
			fmt.Fprintf(out, "received=%d sum=%d\n", received, sum)
			return core.ErrTaskDone
		}
		t.Pause()
		return nil
	}, core.WithPostOffice(po), core.WithInboxCapacity(core.BoxInbox, cfg.Mailbox.DefaultInboxCapacity))

	links := []struct {
		src, dst core.BoxRef
	}{
		{core.Ref(producer, core.BoxOutbox), core.Ref(squarer, core.BoxInbox)},
		{core.Ref(producer, core.BoxSignal), core.Ref(squarer, core.BoxControl)},
		{core.Ref(squarer, core.BoxOutbox), core.Ref(summer, core.BoxInbox)},
		{core.Ref(squarer, core.BoxSignal), core.Ref(summer, core.BoxControl)},
	}
	for _, l := range links {
		if _, err := po.Link(l.src, l.dst, core.LinkNormal, nil); err != nil {
			return nil, fmt.Errorf("link %s -> %s: %w", l.src, l.dst, err)
		}
	}

	return &pipeline{producer: producer, squarer: squarer, summer: summer}, nil
}
