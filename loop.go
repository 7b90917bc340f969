//go:build linux || darwin

package ioloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop
	// that is already running.
	ErrLoopAlreadyRunning = errors.New("ioloop: loop is already running")

	// ErrLoopClosed is returned when operations are attempted on a loop
	// whose Close() has completed.
	ErrLoopClosed = errors.New("ioloop: loop has been closed")
)

// RunMode selects how [Loop.Run] iterates.
type RunMode int

const (
	// RunDefault iterates until no referenced active handles or in-flight
	// requests remain, or Stop() is called.
	RunDefault RunMode = iota
	// RunOnce runs a single iteration, blocking in poll if nothing is
	// immediately ready.
	RunOnce
	// RunNoWait runs a single iteration polling with timeout zero.
	RunNoWait
)

var loopIDCounter atomic.Uint64

// Loop is the I/O readiness reactor driving one thread's handles and
// requests.
//
// One iteration advances through fixed phases, each a single pass:
//
//  1. refresh the cached monotonic time
//  2. run due timers, ordered by (deadline, start sequence)
//  3. run the pending queue (callbacks deferred during the previous
//     iteration, typically write completions)
//  4. idle watchers
//  5. prepare watchers
//  6. poll for I/O readiness; thread-pool completions and [Async] sends
//     arrive here through the wake fd
//  7. check watchers
//  8. closing queue: fire close callbacks, transition handles to closed
//
// Only phase 6 blocks. All callbacks run on the goroutine that called
// [Loop.Run]; no preemption, a callback runs to completion before any
// other loop work advances. A process may run multiple independent loops
// on different goroutines, but handles and requests belong to exactly one
// loop for life.
//
// The only cross-thread shared state is the thread-pool work queue and
// the loop's completion queue plus its wake fd; everything else is
// loop-thread-only by construction, with no locking.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// State machine (cache-line padded internally); observed by the
	// thread-safe wake-posting paths.
	state loopState

	// Poller and wake-up mechanism (eventfd on Linux, self-pipe on
	// Darwin). The wake read end is always watched for read.
	poller        ioPoller
	wakeFd        int
	wakeWriteFd   int
	wakeBuf       [8]byte
	wakePending   atomic.Uint32 // wake-up deduplication
	wakeupsMissed atomic.Uint64

	// Handle bookkeeping: intrusive doubly-linked list of all handles,
	// plus the liveness refcount inputs.
	handles        *Handle
	handleCount    int
	activeHandles  int // active AND referenced handles
	activeRequests int // in-flight requests

	// Timers
	timers   timerHeap
	timerSeq uint64

	// Deferred callbacks: pending runs in phase 3; closing drains LIFO in
	// phase 8.
	pending callbackQueue
	closing []*Handle

	// Phase watcher queues
	idle    []*Idle
	prepare []*Prepare
	check   []*Check

	// Async watchers, drained from the wake callback.
	asyncs []*Async

	// Thread pool bridge: completions are pushed under completionsMu by
	// worker goroutines, then drained on the loop thread when the wake fd
	// reports readable.
	completionsMu sync.Mutex
	completions   callbackQueue
	pool          *threadPool

	// Signal dispatch (os/signal marshalled through the completion queue)
	signals *signalDispatcher

	// Cached monotonic time, refreshed once per iteration and on demand
	// after blocking calls.
	now time.Time

	stopFlag bool

	pollTimeoutCap time.Duration
	metrics        *Metrics

	id uint64
}

// New creates a loop, its poller, wake fd, and worker pool.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		id:             loopIDCounter.Add(1),
		now:            time.Now(),
		pollTimeoutCap: cfg.pollTimeoutCap,
	}
	if cfg.metricsEnabled {
		l.metrics = &Metrics{}
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	l.wakeFd = wakeFd
	l.wakeWriteFd = wakeWriteFd

	if err := l.poller.init(); err != nil {
		closeWakeFd(wakeFd, wakeWriteFd)
		return nil, err
	}

	if err := l.poller.watch(wakeFd, EventRead, l.onWake); err != nil {
		_ = l.poller.close()
		closeWakeFd(wakeFd, wakeWriteFd)
		return nil, err
	}

	l.pool = newThreadPool(l, cfg.threadPoolSize)
	l.signals = newSignalDispatcher(l)

	return l, nil
}

// Run drives the loop in the given mode on the calling goroutine and
// returns when the mode's exit condition is met. For RunDefault that is
// when no referenced active handles, in-flight requests, or closing
// handles remain, or after [Loop.Stop].
func (l *Loop) Run(mode RunMode) error {
	switch l.state.Load() {
	case StateClosed:
		return ErrLoopClosed
	case StateRunning:
		return ErrLoopAlreadyRunning
	}
	if !l.state.TryTransition(StateStopped, StateRunning) {
		return ErrLoopAlreadyRunning
	}
	defer l.state.TryTransition(StateRunning, StateStopped)

	for l.Alive() && !l.stopFlag {
		l.tick(mode)
		if mode != RunDefault {
			break
		}
	}

	l.stopFlag = false
	return nil
}

// tick is a single loop iteration.
func (l *Loop) tick(mode RunMode) {
	if l.metrics != nil {
		l.metrics.Ticks.Add(1)
	}

	l.updateTime()
	// Snapshot before timers run, so callbacks deferred by this
	// iteration's timers wait for the next iteration's pending phase.
	pending := l.pending.take()
	l.runTimers()
	l.runPending(pending)
	l.runIdle()
	l.runPrepare()

	timeout := l.pollTimeout(mode)
	l.pollIO(timeout)

	l.runCheck()
	l.runClosing()

	if mode == RunOnce {
		// A blocking poll may have slept through a timer deadline; give
		// due timers their shot before Run returns.
		l.updateTime()
		l.runTimers()
	}
}

// Stop makes the current iteration finish its remaining phases and
// prevents further iterations. Loop-thread-only (call it from a
// callback); use [Async.Send] to request a stop from another goroutine.
func (l *Loop) Stop() {
	l.stopFlag = true
}

// Alive reports whether anything keeps the loop running: a referenced
// active handle, an in-flight request, or a handle awaiting its close
// callback.
func (l *Loop) Alive() bool {
	return l.activeHandles > 0 || l.activeRequests > 0 || len(l.closing) > 0
}

// Now returns the loop's cached monotonic time. All timer comparisons
// within one iteration observe the same value.
func (l *Loop) Now() time.Time { return l.now }

// Walk calls fn for every handle currently known to the loop, including
// closing ones. fn must not close over loop iterations (it runs inline).
func (l *Loop) Walk(fn func(h *Handle)) {
	for h := l.handles; h != nil; {
		next := h.next // fn may close (not unlink) the handle
		fn(h)
		h = next
	}
}

// Metrics returns the loop's counters, or nil unless [WithMetrics] was
// given.
func (l *Loop) Metrics() *Metrics { return l.metrics }

// Close releases the loop's resources. Every handle must have been
// closed (and its close callback delivered) first: Close fails with
// EBUSY while handles remain, and with [ErrLoopAlreadyRunning] from
// inside Run.
func (l *Loop) Close() error {
	switch l.state.Load() {
	case StateClosed:
		return ErrLoopClosed
	case StateRunning:
		return ErrLoopAlreadyRunning
	}
	if l.handleCount > 0 || l.Alive() {
		return EBUSY
	}

	l.signals.close()
	l.pool.close()

	// Block late completion posters before tearing down the wake fd.
	l.completionsMu.Lock()
	l.state.Store(StateClosed)
	l.completions = callbackQueue{}
	l.completionsMu.Unlock()

	err := l.poller.close()
	closeWakeFd(l.wakeFd, l.wakeWriteFd)
	return err
}

// updateTime refreshes the cached monotonic time.
func (l *Loop) updateTime() {
	l.now = time.Now()
}

// pollTimeout computes the phase-6 timeout in milliseconds. Zero when
// deferred work already exists; otherwise bounded by the earliest timer
// and the configured cap; -1 blocks indefinitely.
func (l *Loop) pollTimeout(mode RunMode) int {
	if mode == RunNoWait || l.stopFlag || !l.Alive() {
		return 0
	}
	if l.pending.len() > 0 || len(l.closing) > 0 {
		return 0
	}
	if l.idleActive() {
		return 0
	}

	timeout := -1
	if d, ok := l.nextTimerDelay(); ok {
		if d < 0 {
			d = 0
		}
		// Ceiling rounding to whole milliseconds so poll never wakes
		// ahead of the deadline.
		ms := int((d + time.Millisecond - 1) / time.Millisecond)
		timeout = ms
	}

	if l.pollTimeoutCap > 0 {
		capMs := int(l.pollTimeoutCap.Milliseconds())
		if timeout < 0 || timeout > capMs {
			timeout = capMs
		}
	}
	return timeout
}

// pollIO runs phase 6.
func (l *Loop) pollIO(timeoutMs int) {
	n, err := l.poller.poll(timeoutMs)
	if err != nil {
		logError("poll", l.id, "poll failed", err, nil)
		return
	}
	if l.metrics != nil && n > 0 {
		l.metrics.PollEvents.Add(uint64(n))
	}
	// Callbacks may have run for a while; keep Now() honest for anything
	// that consults it between phases.
	l.updateTime()
}

// runPending drains q, the snapshot of callbacks deferred during the
// previous iteration that tick took at its start. Callbacks queued while
// draining are observed on the next iteration.
func (l *Loop) runPending(q callbackQueue) bool {
	if q.len() == 0 {
		return false
	}
	for {
		fn, ok := q.pop()
		if !ok {
			break
		}
		fn()
	}
	return true
}

// deferCallback queues fn for the pending phase of the next iteration.
// Used to move completions out of I/O handler stack frames so the caller
// gets symmetric re-entrancy guarantees.
func (l *Loop) deferCallback(fn func()) {
	l.pending.push(fn)
}

// runIdle runs idle watchers; their presence forces a zero poll timeout,
// so they run every iteration while the loop has other work.
func (l *Loop) runIdle() {
	for _, h := range snapshotWatchers(l.idle) {
		if h.IsActive() {
			h.cb()
		}
	}
}

// runPrepare runs prepare watchers just before blocking.
func (l *Loop) runPrepare() {
	for _, h := range snapshotWatchers(l.prepare) {
		if h.IsActive() {
			h.cb()
		}
	}
}

// runCheck runs check watchers just after poll.
func (l *Loop) runCheck() {
	for _, h := range snapshotWatchers(l.check) {
		if h.IsActive() {
			h.cb()
		}
	}
}

// idleActive reports whether any idle watcher is started.
func (l *Loop) idleActive() bool {
	for _, h := range l.idle {
		if h.IsActive() {
			return true
		}
	}
	return false
}

// runClosing drains the closing queue (LIFO): releases each handle's OS
// resources, transitions it to closed, unlinks it, and fires its close
// callback. Close callbacks may queue further closes; they are drained in
// the same pass.
func (l *Loop) runClosing() {
	for len(l.closing) > 0 {
		last := len(l.closing) - 1
		h := l.closing[last]
		l.closing[last] = nil
		l.closing = l.closing[:last]

		if h.release != nil {
			h.release()
		}
		h.flags &^= flagClosing
		h.flags |= flagClosed
		h.unlink()
		if l.metrics != nil {
			l.metrics.HandlesClosed.Add(1)
		}
		if h.closeCb != nil {
			cb := h.closeCb
			h.closeCb = nil
			cb()
		}
	}
}

// onWake is the wake fd's readiness callback: it drains the fd, resets
// the dedup flag, then delivers thread-pool completions and coalesced
// async sends on the loop thread.
func (l *Loop) onWake(IOEvents) {
	for {
		if _, err := readFD(l.wakeFd, l.wakeBuf[:]); err != nil {
			break
		}
	}
	// Reset before draining: a post that lands after the drain below must
	// be able to arm a fresh wake-up.
	l.wakePending.Store(0)

	l.completionsMu.Lock()
	q := l.completions.take()
	l.completionsMu.Unlock()
	for {
		fn, ok := q.pop()
		if !ok {
			break
		}
		fn()
	}

	// Async watchers: the callback fires at most once per group of sends.
	for _, a := range snapshotWatchers(l.asyncs) {
		if a.pending.CompareAndSwap(1, 0) && !a.IsClosing() && a.cb != nil {
			a.cb()
		}
	}
}

// postCompletion marshals fn onto the loop thread. Safe to call from any
// goroutine; this is how pool workers, the signal dispatcher, and process
// reapers reach the loop.
func (l *Loop) postCompletion(fn func()) {
	l.completionsMu.Lock()
	if l.state.Load() == StateClosed {
		l.completionsMu.Unlock()
		return
	}
	l.completions.push(fn)
	l.completionsMu.Unlock()
	l.wakeup()
}

// wakeup writes the wake fd, deduplicated so multiple posts between two
// iterations coalesce into one readiness event.
func (l *Loop) wakeup() {
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := writeFD(l.wakeWriteFd, buf); err != nil {
		// Full pipe still wakes the loop; anything else means teardown.
		l.wakeupsMissed.Add(1)
	}
}

// snapshotWatchers copies a watcher slice so callbacks may start or stop
// watchers (mutating the original) mid-iteration.
func snapshotWatchers[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// removeWatcher deletes h from a watcher slice, order-preserving.
func removeWatcher[T comparable](in []T, h T) []T {
	for i, v := range in {
		if v == h {
			copy(in[i:], in[i+1:])
			var zero T
			in[len(in)-1] = zero
			return in[:len(in)-1]
		}
	}
	return in
}
