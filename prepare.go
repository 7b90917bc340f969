package ioloop

// Prepare runs its callback just before the loop blocks in poll.
type Prepare struct {
	Handle
	cb func()
}

// NewPrepare creates an inactive prepare watcher bound to l.
func NewPrepare(l *Loop) *Prepare {
	h := &Prepare{}
	h.initHandle(l, KindPrepare, h.stopInternal, nil)
	return h
}

// Start begins invoking cb during the prepare phase of every iteration.
func (h *Prepare) Start(cb func()) error {
	if h.IsClosing() {
		return EINVAL
	}
	if cb == nil {
		return EINVAL
	}
	h.cb = cb
	if !h.IsActive() {
		h.loop.prepare = append(h.loop.prepare, h)
		h.setActive()
	}
	return nil
}

// Stop halts invocation. The watcher may be started again.
func (h *Prepare) Stop() error {
	if h.IsClosing() {
		return EINVAL
	}
	h.stopInternal()
	return nil
}

func (h *Prepare) stopInternal() {
	if h.IsActive() {
		h.loop.prepare = removeWatcher(h.loop.prepare, h)
		h.clearActive()
	}
}
