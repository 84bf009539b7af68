package eventloop

import (
	"container/heap"
	"time"
)

// timer represents a scheduled task.
type timer struct {
	when time.Time
	fn   func()
	seq  uint64 // tie-breaker, timers due at the same instant run FIFO
}

// timerHeap is a min-heap of timers, owned by the loop goroutine.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// maxPollTimeout caps how long a single poll may block.
const maxPollTimeout = 10 * time.Second

// calculateTimeout determines how long to block in poll.
func (l *Loop) calculateTimeout() time.Duration {
	timeout := maxPollTimeout
	if len(l.timers) > 0 {
		delay := time.Until(l.timers[0].when)
		if delay < 0 {
			delay = 0
		}
		if delay < timeout {
			timeout = delay
		}
	}
	return timeout
}

// runTimers executes all expired timers.
func (l *Loop) runTimers() {
	now := time.Now()
	for len(l.timers) > 0 {
		if l.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&l.timers).(*timer)
		l.safeExecute(t.fn)

		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// ScheduleTimer schedules fn to run on the loop goroutine after delay.
// The delay is measured from the call, not from when the loop observes it.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) error {
	t := &timer{
		when: time.Now().Add(delay),
		fn:   fn,
	}
	return l.SubmitInternal(func() {
		l.timerSeq++
		t.seq = l.timerSeq
		heap.Push(&l.timers, t)
	})
}
