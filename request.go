package ioloop

// request is the base embedded in every short-lived operation object
// (connect, write, shutdown, getaddrinfo, fs ops, pool work).
//
// A request is submitted exactly once and completes exactly once; its
// completion callback fires on the loop thread only. The submitter owns
// the request's storage from submit until the callback returns. While in
// flight the request contributes to loop liveness.
type request struct {
	loop     *Loop
	inFlight bool
}

// start marks the request in flight. Loop-thread-only.
func (r *request) start(l *Loop) {
	r.loop = l
	r.inFlight = true
	l.activeRequests++
}

// complete marks the request done, immediately before its callback is
// invoked. Loop-thread-only.
func (r *request) complete() {
	if !r.inFlight {
		return
	}
	r.inFlight = false
	r.loop.activeRequests--
}

// InFlight reports whether the request has been submitted and its
// completion callback has not yet fired.
func (r *request) InFlight() bool { return r.inFlight }
