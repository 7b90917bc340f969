// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"time"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	threadPoolSize int
	pollTimeoutCap time.Duration
	metricsEnabled bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithThreadPoolSize sets the worker count for the loop's thread pool
// (default 4). The pool serves filesystem and resolver requests plus
// host-submitted [QueueWork] items.
func WithThreadPoolSize(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return EINVAL
		}
		opts.threadPoolSize = n
		return nil
	}}
}

// WithPollTimeoutCap bounds how long a single poll phase may block even
// with no timer due. Zero (the default) lets poll block indefinitely
// until readiness or a wake-up.
func WithPollTimeoutCap(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d < 0 {
			return EINVAL
		}
		opts.pollTimeoutCap = d
		return nil
	}}
}

// WithMetrics enables runtime counters on the Loop, accessed via
// Loop.Metrics(). The overhead is a handful of atomic increments per
// iteration; disable for zero-overhead hot paths.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		threadPoolSize: defaultThreadPoolSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
