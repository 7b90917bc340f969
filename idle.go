package ioloop

// Idle runs its callback once per loop iteration while started. An
// active idle watcher forces the poll phase to use a zero timeout, so the
// loop spins rather than sleeps — pair with Check/Prepare for work that
// must interleave with I/O.
type Idle struct {
	Handle
	cb func()
}

// NewIdle creates an inactive idle watcher bound to l.
func NewIdle(l *Loop) *Idle {
	h := &Idle{}
	h.initHandle(l, KindIdle, h.stopInternal, nil)
	return h
}

// Start begins invoking cb during the idle phase of every iteration.
func (h *Idle) Start(cb func()) error {
	if h.IsClosing() {
		return EINVAL
	}
	if cb == nil {
		return EINVAL
	}
	h.cb = cb
	if !h.IsActive() {
		h.loop.idle = append(h.loop.idle, h)
		h.setActive()
	}
	return nil
}

// Stop halts invocation. The watcher may be started again.
func (h *Idle) Stop() error {
	if h.IsClosing() {
		return EINVAL
	}
	h.stopInternal()
	return nil
}

func (h *Idle) stopInternal() {
	if h.IsActive() {
		h.loop.idle = removeWatcher(h.loop.idle, h)
		h.clearActive()
	}
}
