//go:build linux || darwin

package ioloop

import (
	"io"

	"golang.org/x/sys/unix"
)

// defaultReadSize is the suggested allocation passed to AllocCallback.
const defaultReadSize = 64 * 1024

// AllocCallback supplies the buffer for an imminent read. Returning an
// empty buffer signals allocation failure: the read is aborted with
// ENOBUFS and reading stops.
type AllocCallback func(s *Stream, suggested int) []byte

// ReadCallback delivers read results.
//
//   - len(buf) > 0, err == nil: data; successive deliveries concatenate,
//     in order, to the bytes the peer wrote.
//   - len(buf) == 0, err == nil: spurious wakeup — the allocator's buffer
//     is returned unused for reclaim. NOT end-of-stream.
//   - err == io.EOF: the peer finished writing; the stream may still be
//     written to.
//   - any other err: terminal; reading has stopped.
type ReadCallback func(s *Stream, buf []byte, err error)

// ConnectionCallback notifies a listening stream of an incoming
// connection; call [Stream.Accept] from within it to take the
// connection, or return without accepting to reject it.
type ConnectionCallback func(s *Stream, err error)

// WriteCallback reports completion of a queued write. err is nil on
// success, ECANCELED if the stream was closed first.
type WriteCallback func(err error)

// ShutdownCallback reports completion of a half-close.
type ShutdownCallback func(err error)

// ConnectCallback reports completion of a connect.
type ConnectCallback func(err error)

// WriteRequest carries one queued write: a scatter list of buffers, the
// progress cursor, and at most one stream handle to pass over an IPC
// pipe. The submitter owns the request until its callback returns.
type WriteRequest struct {
	request

	bufs   [][]byte
	bufIdx int
	bufOff int

	sendFd int // fd passed with the first send; -1 when none/already sent

	cb   WriteCallback
	next *WriteRequest
}

// ShutdownRequest carries a half-close operation.
type ShutdownRequest struct {
	request
	cb ShutdownCallback
}

// ConnectRequest carries an in-flight connect.
type ConnectRequest struct {
	request
	cb ConnectCallback
}

// pendingFD is a file descriptor received over an IPC pipe, not yet
// claimed by Accept.
type pendingFD struct {
	fd   int
	kind HandleKind
}

// Stream is the byte-oriented engine shared by [TCP], [Pipe], and [TTY]:
// read-start/read-stop with an allocator callback, queued writes with
// backpressure accounting, half-close, listen/accept, and peer-FD
// passing over IPC pipes.
type Stream struct {
	Handle

	fd int

	allocCb AllocCallback
	readCb  ReadCallback
	connCb  ConnectionCallback

	wqHead *WriteRequest
	wqTail *WriteRequest
	// writeQueueSize is the sum of unwritten bytes across the queue,
	// exposed for backpressure.
	writeQueueSize int

	connectReq  *ConnectRequest
	shutdownReq *ShutdownRequest

	acceptedFd int
	pendingFds []pendingFD
}

// initStream links the stream into the loop with no fd yet.
func (s *Stream) initStream(l *Loop, kind HandleKind) {
	s.fd = -1
	s.acceptedFd = -1
	s.initHandle(l, kind, s.streamStop, s.streamRelease)
}

// openFd adopts fd into the stream. The fd is made non-blocking and
// close-on-exec; the stream owns it from here.
func (s *Stream) openFd(fd int) error {
	if s.IsClosing() {
		return EINVAL
	}
	if s.fd >= 0 {
		return EBUSY
	}
	if err := setNonblockCloexec(fd); err != nil {
		return Translate(err)
	}
	s.fd = fd
	s.flags |= flagReadable | flagWritable
	return nil
}

// Fd returns the underlying descriptor, or -1.
func (s *Stream) Fd() int { return s.fd }

// WriteQueueSize returns the number of bytes queued but not yet sent.
// The host uses it for backpressure.
func (s *Stream) WriteQueueSize() int { return s.writeQueueSize }

// Readable reports whether the stream can deliver reads.
func (s *Stream) Readable() bool {
	return s.flags&flagReadable != 0 && s.fd >= 0
}

// Writable reports whether the stream accepts writes.
func (s *Stream) Writable() bool {
	return s.flags&flagWritable != 0 && s.fd >= 0 && s.flags&(flagShutting|flagShut) == 0
}

// ReadStart begins delivering reads. Each readiness event allocates via
// alloc and performs one recv; see [ReadCallback] for the result
// contract. Restarting after ReadStop resumes without data loss.
func (s *Stream) ReadStart(alloc AllocCallback, read ReadCallback) error {
	if s.IsClosing() {
		return EINVAL
	}
	if alloc == nil || read == nil {
		return EINVAL
	}
	if s.fd < 0 {
		return EBADF
	}
	if s.flags&flagReadable == 0 {
		return ENOTCONN
	}

	s.allocCb = alloc
	s.readCb = read
	if s.flags&flagReading != 0 {
		return nil
	}
	s.flags |= flagReading
	if err := s.loop.poller.watch(s.fd, EventRead, s.onIO); err != nil {
		s.flags &^= flagReading
		return Translate(err)
	}
	s.setActive()
	return nil
}

// ReadStop ceases read delivery. Bytes that arrive while stopped are
// delivered after the next ReadStart.
func (s *Stream) ReadStop() error {
	if s.IsClosing() {
		return EINVAL
	}
	s.readStopInternal()
	s.maybeInactive()
	return nil
}

func (s *Stream) readStopInternal() {
	if s.flags&flagReading == 0 {
		return
	}
	s.flags &^= flagReading
	if s.fd >= 0 {
		_ = s.loop.poller.unwatch(s.fd, EventRead)
	}
}

// Write queues a write of bufs. When the queue is empty a non-blocking
// send is attempted inline first; either way the callback is deferred to
// the pending phase of the next iteration, never fired synchronously
// from Write. Write callbacks for writes submitted in order on the same
// stream fire in that order.
func (s *Stream) Write(req *WriteRequest, bufs [][]byte, cb WriteCallback) error {
	return s.write(req, bufs, nil, cb)
}

// Write2 is Write with a stream handle attached: the peer receives
// send's descriptor as ancillary data with the first bytes of this
// request. Fails with EINVAL unless the stream is an IPC-enabled pipe.
func (s *Stream) Write2(req *WriteRequest, bufs [][]byte, send *Stream, cb WriteCallback) error {
	if send == nil {
		return EINVAL
	}
	return s.write(req, bufs, send, cb)
}

func (s *Stream) write(req *WriteRequest, bufs [][]byte, send *Stream, cb WriteCallback) error {
	if s.IsClosing() {
		return EINVAL
	}
	if req == nil || req.inFlight {
		return EINVAL
	}
	if s.fd < 0 {
		return EBADF
	}
	if s.flags&flagWritable == 0 {
		return ENOTCONN
	}
	if s.flags&(flagShutting|flagShut) != 0 {
		return EPIPE
	}
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	if total == 0 {
		return EINVAL
	}
	if send != nil {
		if s.kind != KindPipe || s.flags&flagIPC == 0 {
			return EINVAL
		}
		if send.fd < 0 {
			return EBADF
		}
	}

	req.bufs = bufs
	req.bufIdx = 0
	req.bufOff = 0
	req.sendFd = -1
	if send != nil {
		req.sendFd = send.fd
	}
	req.cb = cb
	req.start(s.loop)
	s.writeQueueSize += total

	// Opportunistic inline send when nothing is queued ahead.
	if s.wqHead == nil {
		err := s.writeSome(req)
		if err == nil && req.done() {
			s.completeWrite(req, nil)
			return nil
		}
		if err != nil && err != EAGAIN {
			s.completeWrite(req, err)
			return nil
		}
	}

	// Queue the unwritten suffix and wait for write readiness.
	if s.wqTail != nil {
		s.wqTail.next = req
	} else {
		s.wqHead = req
	}
	s.wqTail = req
	if err := s.loop.poller.watch(s.fd, EventWrite, s.onIO); err != nil {
		return Translate(err)
	}
	s.setActive()
	return nil
}

// TryWrite sends the prefix of bufs that fits into the socket buffer
// without blocking and returns the number of bytes consumed. Fails with
// EAGAIN when queued writes exist (ordering would be violated) or the
// socket is full.
func (s *Stream) TryWrite(bufs [][]byte) (int, error) {
	if s.IsClosing() {
		return 0, EINVAL
	}
	if s.fd < 0 {
		return 0, EBADF
	}
	if s.flags&flagWritable == 0 {
		return 0, ENOTCONN
	}
	if s.flags&(flagShutting|flagShut) != 0 {
		return 0, EPIPE
	}
	if s.wqHead != nil {
		return 0, EAGAIN
	}

	nonEmpty := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Writev(s.fd, nonEmpty)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			ue := err.(unix.Errno)
			if ue == unix.EAGAIN {
				return 0, EAGAIN
			}
			return 0, translateErrno(ue)
		}
		if s.loop.metrics != nil {
			s.loop.metrics.BytesWritten.Add(uint64(n))
		}
		return n, nil
	}
}

// Shutdown half-closes the write side after the write queue drains:
// shutdown(2) with SHUT_WR, then the callback. Succeeds immediately when
// the queue is already empty. Writes submitted after Shutdown fail with
// EPIPE.
func (s *Stream) Shutdown(req *ShutdownRequest, cb ShutdownCallback) error {
	if s.IsClosing() {
		return EINVAL
	}
	if req == nil || req.inFlight {
		return EINVAL
	}
	if s.fd < 0 {
		return EBADF
	}
	if s.flags&flagWritable == 0 {
		return ENOTCONN
	}
	if s.flags&(flagShutting|flagShut) != 0 {
		return EINVAL
	}

	s.flags |= flagShutting
	req.cb = cb
	req.start(s.loop)
	s.shutdownReq = req
	s.setActive()

	if s.wqHead == nil {
		s.finishShutdown()
	}
	return nil
}

// finishShutdown performs the deferred half-close once the queue is dry.
func (s *Stream) finishShutdown() {
	req := s.shutdownReq
	if req == nil {
		return
	}
	s.shutdownReq = nil

	var result error
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		result = translateErrno(err.(unix.Errno))
	} else {
		s.flags |= flagShut
	}
	l := s.loop
	l.deferCallback(func() {
		req.complete()
		if req.cb != nil {
			req.cb(result)
		}
	})
	s.maybeInactive()
}

// Accept transfers a pending connection (or, on an IPC pipe, a received
// descriptor) into client, which must be a freshly initialised handle of
// a matching kind. Fails with EAGAIN when nothing is pending.
func (s *Stream) Accept(client *Stream) error {
	if client == nil || client.fd >= 0 {
		return EINVAL
	}

	// IPC-received descriptors take precedence: one per read callback.
	if len(s.pendingFds) > 0 {
		p := s.pendingFds[0]
		copy(s.pendingFds, s.pendingFds[1:])
		s.pendingFds = s.pendingFds[:len(s.pendingFds)-1]
		if client.kind != p.kind && p.kind != 0 {
			_ = closeFD(p.fd)
			return EINVAL
		}
		return client.openFd(p.fd)
	}

	if s.acceptedFd < 0 {
		return EAGAIN
	}
	fd := s.acceptedFd
	s.acceptedFd = -1
	return client.openFd(fd)
}

// PendingCount returns the number of descriptors received over an IPC
// pipe and not yet accepted.
func (s *Stream) PendingCount() int { return len(s.pendingFds) }

// PendingType returns the handle kind of the next pending received
// descriptor, or 0 when none.
func (s *Stream) PendingType() HandleKind {
	if len(s.pendingFds) == 0 {
		return 0
	}
	return s.pendingFds[0].kind
}

// startListen is the generic tail of Listen: watch for readiness and
// surface incoming connections through cb.
func (s *Stream) startListen(backlog int, cb ConnectionCallback) error {
	if cb == nil {
		return EINVAL
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return translateErrno(err.(unix.Errno))
	}
	s.flags |= flagListening
	s.connCb = cb
	if err := s.loop.poller.watch(s.fd, EventRead, s.onIO); err != nil {
		return Translate(err)
	}
	s.setActive()
	return nil
}

// startConnect is the generic tail of Connect: wait for write readiness,
// then read SO_ERROR.
func (s *Stream) startConnect(req *ConnectRequest, cb ConnectCallback) error {
	req.cb = cb
	req.start(s.loop)
	s.connectReq = req
	if err := s.loop.poller.watch(s.fd, EventWrite, s.onIO); err != nil {
		req.complete()
		s.connectReq = nil
		return Translate(err)
	}
	s.setActive()
	return nil
}

// onIO is the poller callback for every stream. Read readiness is
// handled before write readiness.
func (s *Stream) onIO(events IOEvents) {
	if s.IsClosing() {
		return
	}
	if events&EventRead != 0 {
		if s.flags&flagListening != 0 {
			s.onConnection()
		} else if s.flags&flagReading != 0 {
			s.onRead()
		}
	}
	if s.IsClosing() || s.fd < 0 {
		return
	}
	if events&EventWrite != 0 {
		if s.connectReq != nil {
			s.finishConnect()
		} else {
			s.onWritable()
		}
	}
}

// onRead allocates and performs one recv per readiness event.
func (s *Stream) onRead() {
	buf := s.allocCb(s, defaultReadSize)
	if len(buf) == 0 {
		s.readStopInternal()
		s.maybeInactive()
		s.readCb(s, nil, ENOBUFS)
		return
	}

	n, err := s.recv(buf)
	switch {
	case err == EAGAIN:
		// Spurious wakeup: return the buffer unused so the allocator can
		// reclaim it. Not end-of-stream.
		s.readCb(s, buf[:0], nil)
	case err != nil:
		s.readStopInternal()
		s.maybeInactive()
		s.readCb(s, nil, err)
	case n == 0:
		s.flags |= flagReadEOF
		s.readStopInternal()
		s.maybeInactive()
		s.readCb(s, nil, io.EOF)
	default:
		if s.loop.metrics != nil {
			s.loop.metrics.BytesRead.Add(uint64(n))
		}
		s.readCb(s, buf[:n], nil)
	}
}

// recv reads once from the fd. IPC pipes use recvmsg so ancillary
// descriptors ride along; each is queued as a pending handle.
func (s *Stream) recv(buf []byte) (int, error) {
	if s.kind == KindPipe && s.flags&flagIPC != 0 {
		oob := make([]byte, unix.CmsgSpace(4*4))
		for {
			n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return 0, translateErrno(err.(unix.Errno))
			}
			if oobn > 0 {
				s.queueReceivedFds(oob[:oobn])
			}
			return n, nil
		}
	}
	return readFD(s.fd, buf)
}

// queueReceivedFds parses SCM_RIGHTS payloads into the pending queue.
func (s *Stream) queueReceivedFds(oob []byte) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			s.pendingFds = append(s.pendingFds, pendingFD{fd: fd, kind: guessHandleKind(fd)})
		}
	}
}

// onConnection accepts one pending connection into the one-slot buffer
// and surfaces it. If the host's callback returns without accepting, the
// connection is rejected; further queued connections re-fire on the next
// iteration (level-triggered).
func (s *Stream) onConnection() {
	if s.acceptedFd >= 0 {
		return
	}
	fd, err := acceptSocket(s.fd)
	if err != nil {
		if err == EAGAIN {
			return
		}
		s.connCb(s, err)
		return
	}
	s.acceptedFd = fd
	s.connCb(s, nil)
	if s.acceptedFd >= 0 {
		// Host declined: reject the connection.
		_ = closeFD(s.acceptedFd)
		s.acceptedFd = -1
	}
}

// finishConnect resolves the in-flight connect via SO_ERROR.
func (s *Stream) finishConnect() {
	req := s.connectReq
	s.connectReq = nil

	var result error
	soErr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		result = translateErrno(err.(unix.Errno))
	} else if soErr != 0 {
		result = translateErrno(unix.Errno(soErr))
	}
	if result == nil {
		s.flags |= flagReadable | flagWritable
	}

	if s.wqHead == nil {
		_ = s.loop.poller.unwatch(s.fd, EventWrite)
	}
	s.maybeInactive()

	req.complete()
	if req.cb != nil {
		req.cb(result)
	}
}

// onWritable drains as many queued buffers as the socket will take,
// completing fully-sent requests in submission order via the pending
// queue.
func (s *Stream) onWritable() {
	for s.wqHead != nil {
		req := s.wqHead
		err := s.writeSome(req)
		if err == EAGAIN {
			return
		}
		if err == nil && !req.done() {
			return
		}
		s.completeWrite(req, err)
	}

	// Queue drained.
	if s.shutdownReq != nil {
		s.finishShutdown()
	}
	if s.fd >= 0 && s.connectReq == nil {
		_ = s.loop.poller.unwatch(s.fd, EventWrite)
	}
	s.maybeInactive()
}

// writeSome advances req by one writev/sendmsg round. Returns EAGAIN
// when the socket is full, nil on progress (req may or may not be done).
func (s *Stream) writeSome(req *WriteRequest) error {
	for !req.done() {
		iov := req.remaining()
		var n int
		var err error
		if req.sendFd >= 0 {
			// Ancillary data attaches to the first send of the request
			// only.
			rights := unix.UnixRights(req.sendFd)
			n, err = unix.SendmsgN(s.fd, iov[0], rights, nil, 0)
			if err == nil {
				req.sendFd = -1
			}
		} else {
			n, err = unix.Writev(s.fd, iov)
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			ue, ok := err.(unix.Errno)
			if ok && ue == unix.EAGAIN {
				return EAGAIN
			}
			if ok {
				return translateErrno(ue)
			}
			return Translate(err)
		}
		req.advance(n)
		s.writeQueueSize -= n
		if s.loop.metrics != nil {
			s.loop.metrics.BytesWritten.Add(uint64(n))
		}
	}
	return nil
}

// completeWrite pops req off the queue and defers its callback to the
// pending phase.
func (s *Stream) completeWrite(req *WriteRequest, err error) {
	if s.wqHead == req {
		s.wqHead = req.next
		if s.wqHead == nil {
			s.wqTail = nil
		}
	}
	req.next = nil
	s.writeQueueSize -= req.unwritten()
	req.bufIdx = len(req.bufs)
	req.bufOff = 0

	l := s.loop
	l.deferCallback(func() {
		req.complete()
		if req.cb != nil {
			req.cb(err)
		}
	})
}

// maybeInactive deactivates the stream when the last activating
// condition falls away.
func (s *Stream) maybeInactive() {
	if s.flags&(flagReading|flagListening) != 0 {
		return
	}
	if s.wqHead != nil || s.connectReq != nil || s.shutdownReq != nil {
		return
	}
	s.clearActive()
}

// streamStop runs when Close begins: stop watching the fd; cancellation
// callbacks are delivered in the closing phase, before the close
// callback.
func (s *Stream) streamStop() {
	s.readStopInternal()
	s.flags &^= flagListening
	if s.fd >= 0 {
		if s.loop.poller.watched(s.fd) != 0 {
			_ = s.loop.poller.unwatch(s.fd, EventRead|EventWrite)
		}
	}
}

// streamRelease runs in the closing phase: synthesize ECANCELED for
// every in-flight request (their callbacks fire before the close
// callback), then release descriptors.
func (s *Stream) streamRelease() {
	if req := s.connectReq; req != nil {
		s.connectReq = nil
		req.complete()
		if req.cb != nil {
			req.cb(ECANCELED)
		}
	}

	for s.wqHead != nil {
		req := s.wqHead
		s.wqHead = req.next
		req.next = nil
		s.writeQueueSize -= req.unwritten()
		req.complete()
		if req.cb != nil {
			req.cb(ECANCELED)
		}
	}
	s.wqTail = nil

	if req := s.shutdownReq; req != nil {
		s.shutdownReq = nil
		req.complete()
		if req.cb != nil {
			req.cb(ECANCELED)
		}
	}

	if s.acceptedFd >= 0 {
		_ = closeFD(s.acceptedFd)
		s.acceptedFd = -1
	}
	for _, p := range s.pendingFds {
		_ = closeFD(p.fd)
	}
	s.pendingFds = nil

	if s.fd >= 0 {
		_ = closeFD(s.fd)
		s.fd = -1
	}
}

// done reports whether every buffer byte has been written.
func (r *WriteRequest) done() bool {
	return r.bufIdx >= len(r.bufs)
}

// remaining returns the unwritten scatter list, first entry adjusted for
// the partial-buffer offset.
func (r *WriteRequest) remaining() [][]byte {
	out := make([][]byte, 0, len(r.bufs)-r.bufIdx)
	for i := r.bufIdx; i < len(r.bufs); i++ {
		b := r.bufs[i]
		if i == r.bufIdx {
			b = b[r.bufOff:]
		}
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// unwritten returns the byte count not yet sent.
func (r *WriteRequest) unwritten() int {
	total := 0
	for i := r.bufIdx; i < len(r.bufs); i++ {
		total += len(r.bufs[i])
	}
	if r.bufIdx < len(r.bufs) {
		total -= r.bufOff
	}
	return total
}

// advance moves the progress cursor n bytes forward.
func (r *WriteRequest) advance(n int) {
	for n > 0 && r.bufIdx < len(r.bufs) {
		avail := len(r.bufs[r.bufIdx]) - r.bufOff
		if n < avail {
			r.bufOff += n
			break
		}
		n -= avail
		r.bufIdx++
		r.bufOff = 0
	}
	// Normalize past exhausted or empty buffers so done() is exact.
	for r.bufIdx < len(r.bufs) && r.bufOff == len(r.bufs[r.bufIdx]) {
		r.bufIdx++
		r.bufOff = 0
	}
}

// guessHandleKind classifies a received descriptor for PendingType.
func guessHandleKind(fd int) HandleKind {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0
	}
	switch sa.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
		return KindTCP
	case *unix.SockaddrUnix:
		return KindPipe
	default:
		return 0
	}
}
