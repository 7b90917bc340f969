package ioloop

// HandleKind discriminates the concrete type behind a [Handle].
type HandleKind uint8

const (
	KindTimer HandleKind = iota + 1
	KindTCP
	KindPipe
	KindTTY
	KindAsync
	KindIdle
	KindPrepare
	KindCheck
	KindSignal
	KindProcess
)

// String returns the kind name.
func (k HandleKind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindTCP:
		return "tcp"
	case KindPipe:
		return "pipe"
	case KindTTY:
		return "tty"
	case KindAsync:
		return "async"
	case KindIdle:
		return "idle"
	case KindPrepare:
		return "prepare"
	case KindCheck:
		return "check"
	case KindSignal:
		return "signal"
	case KindProcess:
		return "process"
	default:
		return "unknown"
	}
}

// handleFlags is the per-handle state bitset.
type handleFlags uint16

const (
	flagClosing handleFlags = 1 << iota
	flagClosed
	flagRef
	flagActive
	flagReading
	flagShutting
	flagShut
	flagReadEOF
	flagIPC
	flagReadable
	flagWritable
	flagListening
)

// Handle is the base embedded in every long-lived loop object (timers,
// sockets, pipes, process watchers, ...).
//
// Lifecycle:
//
//	init ──▶ inactive ──(kind-specific start)──▶ active
//	  any ──Close(cb)──▶ closing ──(closing phase)──▶ closed
//
// A handle is active while it is doing work that should keep the loop
// alive (timer armed, stream reading, listening, pending connect, queued
// writes). Unref() marks the handle as non-loop-keeping even while
// active. Once closing, no user-facing state changes are permitted; only
// the close callback will still fire, during the closing phase of the
// loop iteration. The handle's storage must outlive that callback.
//
// All Handle methods are loop-thread-only; the sole cross-thread entry
// point in this package is [Async.Send].
type Handle struct {
	loop *Loop

	// Data is an opaque slot for the host. The loop never touches it;
	// callbacks close over the handle, and the host maps it back to its
	// own object through this field.
	Data any

	closeCb func()

	prev, next *Handle

	// stop deactivates the handle when Close begins: unwatch fds, drop
	// out of phase queues.
	stop func()
	// release frees OS resources (closes fds) during the closing phase,
	// after any ready events already queued by the poller were drained.
	// For streams it also fails in-flight requests with ECANCELED, before
	// the close callback.
	release func()

	kind  HandleKind
	flags handleFlags
}

// initHandle links the handle into the loop's handle list, inactive and
// referenced.
func (h *Handle) initHandle(l *Loop, kind HandleKind, stop, release func()) {
	h.loop = l
	h.kind = kind
	h.flags = flagRef
	h.stop = stop
	h.release = release

	h.next = l.handles
	if l.handles != nil {
		l.handles.prev = h
	}
	l.handles = h
	l.handleCount++
}

// unlink removes the handle from the loop's handle list.
func (h *Handle) unlink() {
	l := h.loop
	if h.prev != nil {
		h.prev.next = h.next
	} else if l.handles == h {
		l.handles = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	h.prev = nil
	h.next = nil
	l.handleCount--
}

// Loop returns the loop the handle belongs to. Handles belong to exactly
// one loop for life.
func (h *Handle) Loop() *Loop { return h.loop }

// Kind returns the concrete handle kind.
func (h *Handle) Kind() HandleKind { return h.kind }

// IsActive reports whether the handle is doing work that keeps the loop
// alive (absent Unref).
func (h *Handle) IsActive() bool {
	return h.flags&flagActive != 0 && h.flags&(flagClosing|flagClosed) == 0
}

// IsClosing reports whether Close has been called (including after the
// close callback ran).
func (h *Handle) IsClosing() bool {
	return h.flags&(flagClosing|flagClosed) != 0
}

// HasRef reports whether the handle counts toward loop liveness.
func (h *Handle) HasRef() bool { return h.flags&flagRef != 0 }

// Ref marks the handle as loop-keeping. Ref after Unref restores the
// liveness contribution; Ref on an already-referenced handle is a no-op,
// so Ref/Unref pairs leave the loop's refcount unchanged.
func (h *Handle) Ref() {
	if h.flags&flagRef != 0 {
		return
	}
	h.flags |= flagRef
	if h.IsActive() {
		h.loop.activeHandles++
	}
}

// Unref marks the handle as non-loop-keeping. The handle remains active.
func (h *Handle) Unref() {
	if h.flags&flagRef == 0 {
		return
	}
	h.flags &^= flagRef
	if h.IsActive() {
		h.loop.activeHandles--
	}
}

// setActive flags the handle active, contributing to loop liveness when
// referenced. Kind-specific start operations call this.
func (h *Handle) setActive() {
	if h.flags&flagActive != 0 {
		return
	}
	h.flags |= flagActive
	if h.flags&flagRef != 0 {
		h.loop.activeHandles++
	}
}

// clearActive is the inverse of setActive; called when the last
// activating condition falls away.
func (h *Handle) clearActive() {
	if h.flags&flagActive == 0 {
		return
	}
	h.flags &^= flagActive
	if h.flags&flagRef != 0 {
		h.loop.activeHandles--
	}
}

// Close begins the handle's close protocol: the handle is deactivated,
// its in-flight operations are cancelled (their callbacks fire with
// ECANCELED before cb), and cb fires during the closing phase — of this
// iteration if the handle was live at its start, else the next. cb may
// be nil. After cb returns the handle is closed and its storage may be
// reused.
//
// Close is safe to call from within any callback of the same handle.
// Close of an already-closing handle fails with EINVAL.
func (h *Handle) Close(cb func()) error {
	if h.flags&(flagClosing|flagClosed) != 0 {
		return EINVAL
	}

	h.closeCb = cb
	if h.stop != nil {
		h.stop()
	}
	h.clearActive()
	h.flags |= flagClosing

	l := h.loop
	l.closing = append(l.closing, h)
	logDebug("close", l.id, "handle close queued", nil, map[string]any{"kind": h.kind.String()})
	return nil
}
