package ioloop

// Check runs its callback just after the loop returns from poll.
type Check struct {
	Handle
	cb func()
}

// NewCheck creates an inactive check watcher bound to l.
func NewCheck(l *Loop) *Check {
	h := &Check{}
	h.initHandle(l, KindCheck, h.stopInternal, nil)
	return h
}

// Start begins invoking cb during the check phase of every iteration.
func (h *Check) Start(cb func()) error {
	if h.IsClosing() {
		return EINVAL
	}
	if cb == nil {
		return EINVAL
	}
	h.cb = cb
	if !h.IsActive() {
		h.loop.check = append(h.loop.check, h)
		h.setActive()
	}
	return nil
}

// Stop halts invocation. The watcher may be started again.
func (h *Check) Stop() error {
	if h.IsClosing() {
		return EINVAL
	}
	h.stopInternal()
	return nil
}

func (h *Check) stopInternal() {
	if h.IsActive() {
		h.loop.check = removeWatcher(h.loop.check, h)
		h.clearActive()
	}
}
