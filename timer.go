package ioloop

import (
	"time"
)

// Timer invokes a callback after a timeout, optionally repeating.
type Timer struct {
	Handle

	cb       func()
	deadline time.Time
	repeat   time.Duration
	seq      uint64
	heapIdx  int
	started  bool
}

// NewTimer creates an inactive timer bound to l.
func NewTimer(l *Loop) *Timer {
	t := &Timer{heapIdx: -1}
	t.initHandle(l, KindTimer, t.stopInternal, nil)
	return t
}

// Start arms the timer: cb fires once after timeout, then every repeat
// interval if repeat is non-zero. Starting an armed timer re-arms it.
func (t *Timer) Start(cb func(), timeout, repeat time.Duration) error {
	if t.IsClosing() {
		return EINVAL
	}
	if cb == nil {
		return EINVAL
	}
	if timeout < 0 || repeat < 0 {
		return EINVAL
	}

	if t.heapIdx >= 0 {
		t.loop.timers.remove(t)
	}

	t.cb = cb
	t.repeat = repeat
	t.deadline = t.loop.now.Add(timeout)
	t.seq = t.loop.timerSeq
	t.loop.timerSeq++
	t.started = true
	t.loop.timers.push(t)
	t.setActive()
	return nil
}

// Stop disarms the timer. Safe to call from within its own callback.
func (t *Timer) Stop() error {
	if t.IsClosing() {
		return EINVAL
	}
	t.stopInternal()
	return nil
}

func (t *Timer) stopInternal() {
	if t.heapIdx >= 0 {
		t.loop.timers.remove(t)
	}
	t.clearActive()
}

// Again restarts a repeating timer using its own repeat interval as the
// timeout. Fails with EINVAL if the timer has never been started.
func (t *Timer) Again() error {
	if t.IsClosing() {
		return EINVAL
	}
	if !t.started {
		return EINVAL
	}
	t.stopInternal()
	if t.repeat > 0 {
		return t.Start(t.cb, t.repeat, t.repeat)
	}
	return nil
}

// Repeat returns the repeat interval.
func (t *Timer) Repeat() time.Duration { return t.repeat }

// SetRepeat changes the repeat interval, taking effect at the next
// expiry or Again.
func (t *Timer) SetRepeat(d time.Duration) { t.repeat = d }

// DueIn returns the time until expiry relative to the loop's cached now,
// or zero if the timer is not armed.
func (t *Timer) DueIn() time.Duration {
	if t.heapIdx < 0 {
		return 0
	}
	d := t.deadline.Sub(t.loop.now)
	if d < 0 {
		return 0
	}
	return d
}

// runTimers pops every timer with deadline ≤ now, in (deadline, start
// sequence) order. A repeating timer is re-inserted before its callback
// runs, so a Stop from within the callback is honored.
func (l *Loop) runTimers() {
	for {
		t := l.timers.peek()
		if t == nil || t.deadline.After(l.now) {
			return
		}
		l.timers.remove(t)

		if t.repeat > 0 {
			next := t.deadline.Add(t.repeat)
			if next.Before(l.now) {
				next = l.now
			}
			t.deadline = next
			t.seq = l.timerSeq
			l.timerSeq++
			l.timers.push(t)
		} else {
			t.clearActive()
		}

		if l.metrics != nil {
			l.metrics.TimersFired.Add(1)
		}
		t.cb()
	}
}

// nextTimerDelay returns the delay until the earliest armed timer.
func (l *Loop) nextTimerDelay() (time.Duration, bool) {
	t := l.timers.peek()
	if t == nil {
		return 0, false
	}
	return t.deadline.Sub(l.now), true
}

// timerHeap is a 4-ary min-heap ordered by (deadline, start sequence).
// Ties fire in start order; the wider fan-out keeps the tree shallow for
// large timer populations.
type timerHeap []*Timer

const timerHeapArity = 4

// timerLess orders by deadline, sequence-tie-broken.
func timerLess(a, b *Timer) bool {
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

func (h *timerHeap) push(t *Timer) {
	*h = append(*h, t)
	t.heapIdx = len(*h) - 1
	h.siftUp(t.heapIdx)
}

func (h *timerHeap) peek() *Timer {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *timerHeap) remove(t *Timer) {
	s := *h
	i := t.heapIdx
	if i < 0 || i >= len(s) || s[i] != t {
		return
	}
	last := len(s) - 1
	s.swap(i, last)
	s[last] = nil
	*h = s[:last]
	t.heapIdx = -1
	if i < last {
		h.siftDown(i)
		h.siftUp(i)
	}
}

func (h timerHeap) swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h timerHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / timerHeapArity
		if !timerLess(h[i], h[parent]) {
			return
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h timerHeap) siftDown(i int) {
	n := len(h)
	for {
		smallest := i
		first := i*timerHeapArity + 1
		for c := first; c < first+timerHeapArity && c < n; c++ {
			if timerLess(h[c], h[smallest]) {
				smallest = c
			}
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}
