// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package vtstream

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gogpu/vtstream/internal/feedback"
	"github.com/gogpu/vtstream/internal/stream"
	"github.com/gogpu/vtstream/page"
)

// MaxTextureUnits is the number of virtual texture units. Unit indices are
// carried in one feedback byte and 0xFF is reserved for "no texture".
const MaxTextureUnits = feedback.NoUnit

// MaxQueueLength is the default capacity of the streaming queue.
const MaxQueueLength = stream.MaxQueueLength

// DefaultBatchSize is the default number of requests the worker takes per
// queue lock.
const DefaultBatchSize = stream.DefaultBatchSize

// ErrFrameState reports a violation of the frame API contract: Begin and
// End must strictly alternate and BindTexture/AddFeedbackData must be
// called between them.
var ErrFrameState = errors.New("vtstream: frame API called out of order")

// Unit is the shader-visible metadata of a bound texture unit.
type Unit struct {
	// MaxLOD is the coarsest-to-finest level count minus one.
	MaxLOD float32

	// Log2Size is log2 of the texture side in texels.
	Log2Size float32
}

// Stats is a snapshot of analyzer counters.
type Stats struct {
	Frames         uint64
	PagesDecoded   uint64
	PagesSubmitted uint64
	PagesDropped   uint64
	PagesLoaded    uint64
	LoadFailures   uint64
	QueueLength    int
	Violations     uint64

	// TexelsScanned and TexelsDropped describe the last decode cycle.
	TexelsScanned int
	TexelsDropped int
}

// Analyzer turns per-frame GPU feedback into page loads.
//
// The renderer drives it from one goroutine, once per frame:
//
//	a.Begin(mem)
//	a.BindTexture(0, terrain)
//	// ... draw, read back feedback ...
//	a.AddFeedbackData(readback)
//	a.End()
//
// End decodes the feedback, deduplicates page requests and hands them to a
// streaming goroutine owned by the analyzer, which loads each page through
// its VirtualTexture and uploads it. The frame goroutine never waits on the
// streaming goroutine: requests that do not fit in the queue are dropped.
//
// Binding tables are double-buffered. Begin swaps them, so feedback captured
// during the previous frame can be resolved with AddDelayedFeedbackData
// against the bindings that were active when it was rendered.
//
// Thread safety: frame methods (Begin, End, BindTexture, AddFeedbackData,
// GetTexture, Units) must be called from a single goroutine. Stats and
// Close may be called from any goroutine.
type Analyzer struct {
	opts options

	textures    [2][MaxTextureUnits]page.VirtualTexture
	swapIndex   int
	numBindings int
	units       [MaxTextureUnits]Unit
	numUnits    int // highest bound unit + 1

	feedbacks []feedback.Chain
	memory    page.StreamedMemory
	inFrame   bool

	decoder  *feedback.Decoder
	queue    *stream.Queue
	streamer *stream.Streamer
	requests []stream.Request

	logger atomic.Pointer[slog.Logger]
	closed atomic.Bool

	frames         atomic.Uint64
	pagesDecoded   atomic.Uint64
	pagesSubmitted atomic.Uint64
	pagesDropped   atomic.Uint64
	violations     atomic.Uint64
	lastDecode     atomic.Pointer[feedback.Stats]
}

// New creates an analyzer and starts its streaming goroutine.
// Call Close to stop it.
func New(opts ...Option) *Analyzer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	a := &Analyzer{
		opts:    o,
		decoder: feedback.NewDecoder(),
		queue:   stream.NewQueue(o.queueCapacity),
	}

	streamerOpts := []stream.StreamerOption{stream.WithBatchSize(o.batchSize)}
	if o.onLoaded != nil {
		hook := o.onLoaded
		streamerOpts = append(streamerOpts, stream.WithOnLoaded(func(r stream.Request, err error) {
			hook(r.Descriptor, err)
		}))
	}
	a.streamer = stream.NewStreamer(a.queue, streamerOpts...)

	if o.logger != nil {
		propagateLogger(a, o.logger)
	} else {
		// Register first so a concurrent SetLogger reaches a; repeat until
		// the logger handed over is still current.
		liveAnalyzers.Store(a, struct{}{})
		for l := Logger(); ; {
			propagateLogger(a, l)
			cur := Logger()
			if cur == l {
				break
			}
			l = cur
		}
	}

	a.streamer.Start()
	return a
}

// Close clears pending requests, stops the streaming goroutine and waits for
// it to exit. If a page load is in progress, Close waits for it to return.
// Close is safe to call multiple times.
func (a *Analyzer) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		a.streamer.Stop()
		return
	}
	liveAnalyzers.Delete(a)

	if n := a.queue.Clear(); n > 0 {
		a.log().Debug("vtstream: discarded pending pages on close", "pages", n)
	}
	a.streamer.Stop()
	a.queue.Close()
}

// Begin starts a frame. It swaps the binding tables, clears the new current
// table and the feedback list, and records mem for this frame's page loads.
func (a *Analyzer) Begin(mem page.StreamedMemory) {
	if a.inFrame {
		a.violation("Begin called twice without End")
	}
	a.inFrame = true

	a.swapIndex ^= 1
	clear(a.textures[a.swapIndex][:])
	clear(a.units[:a.numUnits])
	a.numUnits = 0
	a.numBindings = 0
	a.resetFeedbacks()
	a.memory = mem
	a.frames.Add(1)
}

// BindTexture binds t to unit for the current frame. Passing nil unbinds
// the unit.
func (a *Analyzer) BindTexture(unit int, t page.VirtualTexture) {
	if !a.inFrame {
		a.violation("BindTexture called outside Begin/End")
	}
	if unit < 0 || unit >= MaxTextureUnits {
		a.violation(fmt.Sprintf("texture unit %d out of range", unit))
		return
	}

	table := &a.textures[a.swapIndex]
	switch {
	case table[unit] == nil && t != nil:
		a.numBindings++
	case table[unit] != nil && t == nil:
		a.numBindings--
	}
	table[unit] = t

	if t == nil {
		a.units[unit] = Unit{}
		return
	}
	a.units[unit] = Unit{
		MaxLOD:   float32(t.NumLevels() - 1),
		Log2Size: float32(t.Log2Size()),
	}
	if unit >= a.numUnits {
		a.numUnits = unit + 1
	}
}

// GetTexture returns the texture bound to unit in the current frame, or nil.
func (a *Analyzer) GetTexture(unit int) page.VirtualTexture {
	if unit < 0 || unit >= MaxTextureUnits {
		return nil
	}
	return a.textures[a.swapIndex][unit]
}

// HasBindings reports whether any texture is bound in the current frame.
func (a *Analyzer) HasBindings() bool {
	return a.numBindings > 0
}

// NumBindings returns the number of units bound in the current frame.
func (a *Analyzer) NumBindings() int {
	return a.numBindings
}

// Units returns the shader metadata of units 0 through the highest bound
// unit of the current frame. Unbound units in that range are zero.
// The slice is owned by the analyzer and valid until the next Begin.
func (a *Analyzer) Units() []Unit {
	return a.units[:a.numUnits]
}

// AddFeedbackData queues a feedback readback captured with the current
// frame's bindings. data is referenced, not copied, and must stay valid
// until End returns.
func (a *Analyzer) AddFeedbackData(data []byte) {
	a.AddDelayedFeedbackData(data, 0)
}

// AddDelayedFeedbackData queues a feedback readback captured latency frames
// ago. Only latencies 0 and 1 can be resolved; other chains are ignored
// during decoding.
func (a *Analyzer) AddDelayedFeedbackData(data []byte, latency int) {
	if !a.inFrame {
		a.violation("AddFeedbackData called outside Begin/End")
	}
	a.feedbacks = append(a.feedbacks, feedback.Chain{Data: data, Latency: latency})
}

// End finishes the frame. When textures are bound, it decodes the queued
// feedback, deduplicates the page requests and submits them to the
// streaming queue, most referenced pages first. The feedback list is
// cleared in every case.
func (a *Analyzer) End() {
	if !a.inFrame {
		a.violation("End called without Begin")
	}
	a.inFrame = false
	defer a.resetFeedbacks()

	if a.closed.Load() || !a.HasBindings() {
		return
	}

	pages := a.decoder.Decode(a.feedbacks, a.resolve)
	st := a.decoder.Stats()
	a.lastDecode.Store(&st)
	a.pagesDecoded.Add(uint64(len(pages)))

	slices.SortStableFunc(pages, func(x, y page.Descriptor) int {
		return cmp.Compare(y.RefCount, x.RefCount)
	})

	a.requests = a.requests[:0]
	for _, p := range pages {
		a.requests = append(a.requests, stream.Request{Descriptor: p, Memory: a.memory})
	}
	accepted, dropped := a.queue.Submit(a.requests)
	clear(a.requests)

	a.pagesSubmitted.Add(uint64(accepted)) //nolint:gosec // non-negative
	if dropped > 0 {
		a.pagesDropped.Add(uint64(dropped)) //nolint:gosec // non-negative
		a.log().Debug("vtstream: streaming queue full, dropped page requests",
			"dropped", dropped, "accepted", accepted, "queued", a.queue.Len())
	}
}

// Stats returns a snapshot of the analyzer counters.
func (a *Analyzer) Stats() Stats {
	s := Stats{
		Frames:         a.frames.Load(),
		PagesDecoded:   a.pagesDecoded.Load(),
		PagesSubmitted: a.pagesSubmitted.Load(),
		PagesDropped:   a.pagesDropped.Load(),
		PagesLoaded:    a.streamer.Loaded(),
		LoadFailures:   a.streamer.Failed(),
		QueueLength:    a.queue.Len(),
		Violations:     a.violations.Load(),
	}
	if d := a.lastDecode.Load(); d != nil {
		s.TexelsScanned = d.Texels
		s.TexelsDropped = d.DroppedTexels
	}
	return s
}

// resolve maps a feedback chain's latency and unit to the bound texture.
func (a *Analyzer) resolve(latency, unit int) page.VirtualTexture {
	if unit < 0 || unit >= MaxTextureUnits {
		return nil
	}
	return a.textures[a.swapIndex^(latency&1)][unit]
}

func (a *Analyzer) resetFeedbacks() {
	clear(a.feedbacks)
	a.feedbacks = a.feedbacks[:0]
}

func (a *Analyzer) violation(msg string) {
	a.violations.Add(1)
	err := fmt.Errorf("%w: %s", ErrFrameState, msg)
	if a.opts.strictFrames {
		panic(err)
	}
	a.log().Error("vtstream: contract violation", "err", err)
}

func (a *Analyzer) log() *slog.Logger {
	return a.logger.Load()
}
