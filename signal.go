package ioloop

import (
	"os"
	"os/signal"
	"sync"
)

// Signal invokes a callback on the loop thread when the process receives
// an OS signal. Deliveries that arrive while a previous delivery is still
// queued coalesce into one callback invocation.
type Signal struct {
	Handle
	signum os.Signal
	cb     func(sig os.Signal)
}

// NewSignal creates an inactive signal watcher bound to l.
func NewSignal(l *Loop) *Signal {
	h := &Signal{}
	h.initHandle(l, KindSignal, h.stopInternal, nil)
	return h
}

// Start begins watching sig. Multiple watchers per signal are allowed;
// each gets its own callback.
func (h *Signal) Start(sig os.Signal, cb func(sig os.Signal)) error {
	if h.IsClosing() {
		return EINVAL
	}
	if sig == nil || cb == nil {
		return EINVAL
	}
	if h.IsActive() {
		return EBUSY
	}
	h.signum = sig
	h.cb = cb
	h.loop.signals.add(h)
	h.setActive()
	return nil
}

// Stop ceases watching. The handle may be started again.
func (h *Signal) Stop() error {
	if h.IsClosing() {
		return EINVAL
	}
	h.stopInternal()
	return nil
}

// Signum returns the watched signal, nil before Start.
func (h *Signal) Signum() os.Signal { return h.signum }

func (h *Signal) stopInternal() {
	if h.IsActive() {
		h.loop.signals.remove(h)
		h.clearActive()
	}
}

// signalDispatcher is the loop's signal multiplexer. os/signal delivers
// into a channel drained by one goroutine, which marks the signal
// pending and schedules a single loop-thread delivery pass through the
// completion queue — so watcher callbacks run on the loop thread and
// re-entrant deliveries coalesce.
//
// (Raw in-process signal handlers belong to the Go runtime; os/signal is
// the supported primitive, so the "write the signal number to the wake
// pipe" design becomes "mark pending, post one completion".)
type signalDispatcher struct {
	loop *Loop

	// watchers is loop-thread-only.
	watchers map[os.Signal][]*Signal

	ch   chan os.Signal
	done chan struct{}

	mu        sync.Mutex
	pending   map[os.Signal]bool
	scheduled bool
	notified  map[os.Signal]bool
	running   bool
}

func newSignalDispatcher(l *Loop) *signalDispatcher {
	return &signalDispatcher{
		loop:     l,
		watchers: make(map[os.Signal][]*Signal),
		ch:       make(chan os.Signal, 16),
		done:     make(chan struct{}),
		pending:  make(map[os.Signal]bool),
		notified: make(map[os.Signal]bool),
	}
}

// add registers a watcher and wires os/signal on first use of a signum.
func (d *signalDispatcher) add(h *Signal) {
	d.watchers[h.signum] = append(d.watchers[h.signum], h)

	d.mu.Lock()
	if !d.running {
		d.running = true
		go d.run()
	}
	if !d.notified[h.signum] {
		d.notified[h.signum] = true
		signal.Notify(d.ch, h.signum)
	}
	d.mu.Unlock()
}

// remove deregisters a watcher. os/signal notification for the signum is
// left in place (Notify is per-channel additive; unmatched deliveries
// are simply dropped in deliver).
func (d *signalDispatcher) remove(h *Signal) {
	d.watchers[h.signum] = removeWatcher(d.watchers[h.signum], h)
	if len(d.watchers[h.signum]) == 0 {
		delete(d.watchers, h.signum)
	}
}

// run is the dispatcher goroutine: it coalesces raw deliveries into the
// pending set and schedules at most one loop-thread pass at a time.
func (d *signalDispatcher) run() {
	for {
		select {
		case sig := <-d.ch:
			d.mu.Lock()
			d.pending[sig] = true
			schedule := !d.scheduled
			d.scheduled = true
			d.mu.Unlock()
			if schedule {
				d.loop.postCompletion(d.deliver)
			}
		case <-d.done:
			return
		}
	}
}

// deliver runs on the loop thread: swap out the pending set and invoke
// watcher callbacks.
func (d *signalDispatcher) deliver() {
	d.mu.Lock()
	fired := d.pending
	d.pending = make(map[os.Signal]bool)
	d.scheduled = false
	d.mu.Unlock()

	for sig := range fired {
		for _, h := range snapshotWatchers(d.watchers[sig]) {
			if h.IsActive() && h.cb != nil {
				h.cb(sig)
			}
		}
	}
}

// close tears the dispatcher down with the loop.
func (d *signalDispatcher) close() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()
	signal.Stop(d.ch)
	if running {
		close(d.done)
	}
}
