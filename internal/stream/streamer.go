// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Streamer errors.
var (
	// ErrLoadPanic is reported when a texture's load or upload routine panics.
	ErrLoadPanic = errors.New("stream: page load panicked")

	// ErrNoTexture is reported for a request without a texture.
	ErrNoTexture = errors.New("stream: request has no texture")
)

// DefaultBatchSize is the number of requests taken per queue lock.
const DefaultBatchSize = 16

// State is the state of the streaming goroutine.
type State int32

const (
	// StateIdle means the worker has not started or finished a batch.
	StateIdle State = iota
	// StateWaiting means the worker is blocked waiting for submissions.
	StateWaiting
	// StateLoading means the worker is loading a page.
	StateLoading
	// StateStopped means the worker has exited.
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateLoading:
		return "loading"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Streamer runs the streaming goroutine: it waits for submissions on a
// Queue, loads every dequeued page through its texture and hands the data
// to the texture's upload path. Loads happen outside the queue lock.
//
// Shutdown is two-phase: Stop sets the stop flag, wakes the goroutine,
// waits for the stop acknowledgement and joins. If a texture's LoadPage
// never returns, Stop never returns either; the context passed to LoadPage
// is cancelled first so well-behaved loaders can bail out.
//
// Thread safety: Streamer is safe for concurrent use.
type Streamer struct {
	queue     *Queue
	batchSize int
	onLoaded  func(Request, error)

	logger atomic.Pointer[slog.Logger]
	state  atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the lifecycle flags.
	mu       sync.Mutex
	started  bool
	stopping bool

	// stop is checked by the goroutine before and after every wait.
	stop    atomic.Bool
	stopped chan struct{}
	acks    atomic.Int32
	wg      sync.WaitGroup

	loaded  atomic.Uint64
	failed  atomic.Uint64
	wakeups atomic.Uint64
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithBatchSize sets how many requests are dequeued per lock.
func WithBatchSize(n int) StreamerOption {
	return func(s *Streamer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithOnLoaded installs a hook called on the streaming goroutine after
// every request, with the load error or nil.
func WithOnLoaded(fn func(Request, error)) StreamerOption {
	return func(s *Streamer) {
		s.onLoaded = fn
	}
}

// WithLogger sets the streamer logger.
func WithLogger(l *slog.Logger) StreamerOption {
	return func(s *Streamer) {
		s.SetLogger(l)
	}
}

// NewStreamer creates a streamer draining q. Call Start to launch the
// goroutine.
func NewStreamer(q *Queue, opts ...StreamerOption) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		queue:     q,
		batchSize: DefaultBatchSize,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	s.logger.Store(slog.New(slog.DiscardHandler))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger sets the logger. Passing nil disables logging.
func (s *Streamer) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	s.logger.Store(l)
}

// Start launches the streaming goroutine. Calls after the first, or after
// Stop, are no-ops.
func (s *Streamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopping {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.run()
	s.logger.Load().Info("vtstream: streaming worker started", "batch", s.batchSize)
}

// Stop shuts the goroutine down and waits for it to exit. Stop is safe to
// call multiple times and before Start.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.stopping = true
	started := s.started
	s.mu.Unlock()

	s.stop.Store(true)
	s.cancel()
	if !started {
		s.acknowledgeStop()
		return
	}

	s.queue.Notify()
	<-s.stopped
	s.wg.Wait()
	s.logger.Load().Info("vtstream: streaming worker stopped",
		"loaded", s.loaded.Load(), "failed", s.failed.Load())
}

// Stopped returns a channel closed once the goroutine has acknowledged a
// stop request.
func (s *Streamer) Stopped() <-chan struct{} {
	return s.stopped
}

// StopAcks returns how many times the stop acknowledgement was signalled.
func (s *Streamer) StopAcks() int {
	return int(s.acks.Load())
}

// State returns the current worker state.
func (s *Streamer) State() State {
	return State(s.state.Load())
}

// Loaded returns the number of pages loaded and uploaded successfully.
func (s *Streamer) Loaded() uint64 { return s.loaded.Load() }

// Failed returns the number of requests whose load or upload failed.
func (s *Streamer) Failed() uint64 { return s.failed.Load() }

// Wakeups returns how many times the goroutine returned from a wait.
func (s *Streamer) Wakeups() uint64 { return s.wakeups.Load() }

func (s *Streamer) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Streamer) acknowledgeStop() {
	s.setState(StateStopped)
	s.acks.Add(1)
	close(s.stopped)
}

// run is the streaming goroutine.
func (s *Streamer) run() {
	defer s.wg.Done()
	defer s.acknowledgeStop()

	batch := make([]Request, 0, s.batchSize)
	for {
		if s.stop.Load() {
			return
		}
		s.setState(StateWaiting)
		woke := s.queue.Wait(s.ctx)
		s.wakeups.Add(1)
		if !woke || s.stop.Load() {
			return
		}

		for {
			batch = s.queue.Dequeue(batch[:0], s.batchSize)
			if len(batch) == 0 {
				break
			}
			for i := range batch {
				if s.stop.Load() {
					return
				}
				s.load(batch[i])
				batch[i] = Request{}
			}
		}
		s.setState(StateIdle)
	}
}

func (s *Streamer) load(req Request) {
	s.setState(StateLoading)
	err := s.fetch(req)
	if err != nil {
		s.failed.Add(1)
		s.logger.Load().Warn("vtstream: page load failed",
			"texture", req.Key.Texture, "page", req.Index.String(), "err", err)
	} else {
		s.loaded.Add(1)
	}
	if s.onLoaded != nil {
		s.onLoaded(req, err)
	}
}

// fetch loads and uploads one page, converting collaborator panics into
// errors so the goroutine and the queue cursor survive.
func (s *Streamer) fetch(req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoadPanic, r)
		}
	}()

	if req.Texture == nil {
		return ErrNoTexture
	}
	data, err := req.Texture.LoadPage(s.ctx, req.Memory, req.Index)
	if err != nil {
		return fmt.Errorf("load %s: %w", req.Key, err)
	}
	if err := req.Texture.UploadPage(req.Memory, req.Index, data); err != nil {
		return fmt.Errorf("upload %s: %w", req.Key, err)
	}
	return nil
}
