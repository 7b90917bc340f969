package ioloop

import (
	"context"
	"net"
)

// AddrInfoCallback receives a completed resolution on the loop thread.
type AddrInfoCallback func(req *AddrInfoRequest)

// AddrInfoRequest resolves a host/service pair on a pool worker — the
// platform resolver blocks, so it rides the thread pool like the
// filesystem ops. With a nil callback the lookup runs synchronously.
//
// Addrs and Port are populated before the callback fires; concurrent
// requests complete in completion order, not submission order.
type AddrInfoRequest struct {
	wreq WorkRequest

	cb AddrInfoCallback

	Host    string
	Service string

	Addrs []net.IPAddr
	Port  int
	Err   error
}

// InFlight reports whether an async submission has not yet completed.
func (r *AddrInfoRequest) InFlight() bool { return r.wreq.InFlight() }

// Cancel attempts to dequeue the request before its lookup starts; the
// callback still fires with req.Err == ECANCELED.
func (r *AddrInfoRequest) Cancel() error { return r.wreq.Cancel() }

// GetAddrInfo resolves node (a hostname or literal) and service (a port
// number or name, may be empty).
func GetAddrInfo(l *Loop, req *AddrInfoRequest, node, service string, cb AddrInfoCallback) error {
	if req == nil || req.wreq.InFlight() {
		return EINVAL
	}
	if node == "" && service == "" {
		return EINVAL
	}
	*req = AddrInfoRequest{cb: cb, Host: node, Service: service}

	work := func() {
		ctx := context.Background()
		if service != "" {
			port, err := net.DefaultResolver.LookupPort(ctx, "tcp", service)
			if err != nil {
				req.Err = EAI
				return
			}
			req.Port = port
		}
		if node != "" {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, node)
			if err != nil || len(addrs) == 0 {
				req.Err = EAI
				return
			}
			req.Addrs = addrs
		}
	}

	if cb == nil {
		work()
		return req.Err
	}
	return QueueWork(l, &req.wreq, work, func(err error) {
		if err != nil {
			req.Err = err
		}
		cb(req)
	})
}

// NameInfoCallback receives a completed reverse lookup on the loop
// thread.
type NameInfoCallback func(req *NameInfoRequest)

// NameInfoRequest reverse-resolves an address on a pool worker.
type NameInfoRequest struct {
	wreq WorkRequest

	cb NameInfoCallback

	Addr  string
	Names []string
	Err   error
}

// InFlight reports whether an async submission has not yet completed.
func (r *NameInfoRequest) InFlight() bool { return r.wreq.InFlight() }

// Cancel attempts to dequeue the request before its lookup starts.
func (r *NameInfoRequest) Cancel() error { return r.wreq.Cancel() }

// GetNameInfo resolves the hostnames for an IP address.
func GetNameInfo(l *Loop, req *NameInfoRequest, addr string, cb NameInfoCallback) error {
	if req == nil || req.wreq.InFlight() {
		return EINVAL
	}
	if addr == "" {
		return EINVAL
	}
	*req = NameInfoRequest{cb: cb, Addr: addr}

	work := func() {
		names, err := net.DefaultResolver.LookupAddr(context.Background(), addr)
		if err != nil || len(names) == 0 {
			req.Err = EAI
			return
		}
		req.Names = names
	}

	if cb == nil {
		work()
		return req.Err
	}
	return QueueWork(l, &req.wreq, work, func(err error) {
		if err != nil {
			req.Err = err
		}
		cb(req)
	})
}
