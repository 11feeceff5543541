// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package vtstream

import (
	"log/slog"

	"github.com/gogpu/vtstream/internal/stream"
	"github.com/gogpu/vtstream/page"
)

// Option configures an Analyzer during creation.
//
// Example:
//
//	a := vtstream.New(
//	    vtstream.WithQueueCapacity(512),
//	    vtstream.WithLogger(slog.Default()),
//	)
//	defer a.Close()
type Option func(*options)

// options holds optional configuration for Analyzer creation.
type options struct {
	queueCapacity int
	batchSize     int
	logger        *slog.Logger
	strictFrames  bool
	onLoaded      func(page.Descriptor, error)
}

// defaultOptions returns the default analyzer options.
func defaultOptions() options {
	return options{
		queueCapacity: stream.MaxQueueLength,
		batchSize:     stream.DefaultBatchSize,
	}
}

// WithQueueCapacity sets the number of unread page requests the streaming
// queue holds before new requests are dropped. Values <= 0 keep the default
// of 256.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// WithBatchSize sets how many requests the streaming worker takes from the
// queue per lock acquisition. Values <= 0 keep the default.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger gives the analyzer its own logger. Analyzers created without
// it follow SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithStrictFrames makes frame API contract violations (Begin/End not
// alternating, BindTexture outside a frame) panic instead of being logged.
// Useful in debug builds and tests.
func WithStrictFrames(strict bool) Option {
	return func(o *options) {
		o.strictFrames = strict
	}
}

// WithOnLoaded installs a hook called on the streaming goroutine after every
// page request has been processed, with the load error or nil.
func WithOnLoaded(fn func(page.Descriptor, error)) Option {
	return func(o *options) {
		o.onLoaded = fn
	}
}
