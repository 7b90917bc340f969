package ioloop

import (
	"sync/atomic"
)

// LoopState represents the lifecycle state of a [Loop].
//
// State Machine:
//
//	StateStopped (0) → StateRunning   [Run()]
//	StateRunning → StateStopped       [Run() returns]
//	StateStopped → StateClosed        [Close()]
//
// State Transition Rules:
//   - Use TryTransition() (CAS) for the Stopped↔Running pair
//   - StateClosed is terminal
//
// Run() and Close() are loop-thread operations; the atomic state exists so
// the thread-safe entry points ([Async.Send], thread-pool completion
// posting) can observe liveness without locks.
type LoopState uint32

const (
	// StateStopped indicates the loop is not currently iterating. A loop
	// starts here and returns here between Run() calls.
	StateStopped LoopState = 0
	// StateRunning indicates Run() is executing iterations.
	StateRunning LoopState = 1
	// StateClosed indicates Close() completed; the loop's resources are
	// released and no further operations are permitted.
	StateClosed LoopState = 2
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state cell with cache-line padding, so the
// cross-thread readers (wake posting) never false-share with the loop's
// hot fields.
type loopState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte //nolint:unused
	v atomic.Uint32
	_ [sizeOfCacheLine - 4]byte //nolint:unused
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to
// another. Returns true if the transition was applied.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
