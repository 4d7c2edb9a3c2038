package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// pendingWake is a task waiting for its pause timeout to expire.
type pendingWake struct {
	at    time.Time
	task  *Task
	index int
}

type wakeHeap []*pendingWake

func (h wakeHeap) Len() int           { return len(h) }
func (h wakeHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeHeap) Push(x any) {
	item := x.(*pendingWake)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h wakeHeap) peek() *pendingWake {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// wakeTimer wakes paused tasks after their timeout. One timer goroutine
// serves a whole scheduler. A task has at most one pending wake; a new
// timed pause replaces the old deadline.
type wakeTimer struct {
	mu      sync.Mutex
	pq      wakeHeap
	byTask  map[*Task]*pendingWake
	wake    func(*Task)
	wakeup  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

func newWakeTimer(wake func(*Task)) *wakeTimer {
	ctx, cancel := context.WithCancel(context.Background())
	wt := &wakeTimer{
		byTask: make(map[*Task]*pendingWake),
		wake:   wake,
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&wt.pq)
	wt.stopped.Add(1)
	go wt.loop()
	return wt
}

// Schedule arranges for t to be woken after d.
func (wt *wakeTimer) Schedule(t *Task, d time.Duration) {
	wt.mu.Lock()
	at := time.Now().Add(d)
	if item, ok := wt.byTask[t]; ok {
		item.at = at
		heap.Fix(&wt.pq, item.index)
	} else {
		item = &pendingWake{at: at, task: t}
		heap.Push(&wt.pq, item)
		wt.byTask[t] = item
	}
	front := wt.pq.peek().task == t
	wt.mu.Unlock()

	if front {
		select {
		case wt.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel drops any pending wake for t.
func (wt *wakeTimer) Cancel(t *Task) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if item, ok := wt.byTask[t]; ok {
		heap.Remove(&wt.pq, item.index)
		delete(wt.byTask, t)
	}
}

func (wt *wakeTimer) Pending() int {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return len(wt.pq)
}

func (wt *wakeTimer) loop() {
	defer wt.stopped.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next, ok := wt.nextDeadline()
		if !ok {
			next = 1000 * time.Hour
		}
		timer.Reset(next)

		select {
		case <-wt.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			wt.fireExpired()
		case <-wt.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (wt *wakeTimer) nextDeadline() (time.Duration, bool) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	item := wt.pq.peek()
	if item == nil {
		return 0, false
	}
	return max(time.Until(item.at), 0), true
}

func (wt *wakeTimer) fireExpired() {
	wt.mu.Lock()
	now := time.Now()
	var expired []*Task
	for wt.pq.Len() > 0 {
		item := wt.pq.peek()
		if item.at.After(now) {
			break
		}
		heap.Pop(&wt.pq)
		delete(wt.byTask, item.task)
		expired = append(expired, item.task)
	}
	wt.mu.Unlock()

	// Wake outside the lock
	for _, t := range expired {
		wt.wake(t)
	}
}

func (wt *wakeTimer) Stop() {
	wt.cancel()
	wt.stopped.Wait()

	wt.mu.Lock()
	wt.pq = wt.pq[:0]
	wt.byTask = make(map[*Task]*pendingWake)
	wt.mu.Unlock()
}
