package ioloop

import (
	"sync/atomic"
)

// Metrics exposes loop counters when [WithMetrics] is enabled. All
// fields are atomics so tests and monitoring goroutines may read them
// off-thread.
type Metrics struct {
	// Ticks is the number of loop iterations completed or in progress.
	Ticks atomic.Uint64
	// TimersFired counts timer callbacks invoked.
	TimersFired atomic.Uint64
	// PollEvents counts readiness entries dispatched by the poller.
	PollEvents atomic.Uint64
	// BytesRead / BytesWritten aggregate stream traffic.
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
	// PoolJobs counts work items submitted to the thread pool.
	PoolJobs atomic.Uint64
	// HandlesClosed counts handles that completed the close protocol.
	HandlesClosed atomic.Uint64
}
