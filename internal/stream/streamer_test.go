// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/vtstream/page"
)

// recordingTexture records loads and uploads. LoadPage fails for pages in
// fail and panics for pages in panics.
type recordingTexture struct {
	mu       sync.Mutex
	loads    map[page.Index]int
	uploads  map[page.Index]int
	fail     map[page.Index]bool
	panics   map[page.Index]bool
	block    chan struct{} // if non-nil, LoadPage waits on it or ctx
	entered  chan struct{}
	blockCtx atomic.Bool
}

func newRecordingTexture() *recordingTexture {
	return &recordingTexture{
		loads:   make(map[page.Index]int),
		uploads: make(map[page.Index]int),
		fail:    make(map[page.Index]bool),
		panics:  make(map[page.Index]bool),
	}
}

var errBadTile = errors.New("bad tile")

func (r *recordingTexture) ID() uint32                  { return 1 }
func (r *recordingTexture) NumLevels() int              { return 8 }
func (r *recordingTexture) Log2Size() int               { return 14 }
func (r *recordingTexture) ValidPage(i page.Index) bool { return i.Valid(8) }

func (r *recordingTexture) LoadPage(ctx context.Context, _ page.StreamedMemory, idx page.Index) ([]byte, error) {
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			r.blockCtx.Store(true)
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads[idx]++
	if r.panics[idx] {
		panic("corrupt tile")
	}
	if r.fail[idx] {
		return nil, errBadTile
	}
	return []byte{byte(idx)}, nil
}

func (r *recordingTexture) UploadPage(_ page.StreamedMemory, idx page.Index, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[idx]++
	return nil
}

func (r *recordingTexture) uploadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.uploads {
		n += c
	}
	return n
}

func texRequests(tex page.VirtualTexture, start, n int) []Request {
	reqs := requests(start, n)
	for i := range reqs {
		reqs[i].Texture = tex
	}
	return reqs
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// =============================================================================
// Loading
// =============================================================================

func TestStreamer_LoadsSubmittedPages(t *testing.T) {
	tex := newRecordingTexture()
	q := NewQueue(32)
	s := NewStreamer(q, WithBatchSize(4))
	s.Start()
	defer s.Stop()

	q.Submit(texRequests(tex, 0, 10))

	waitFor(t, "10 uploads", func() bool { return s.Loaded() == 10 })
	if got := tex.uploadCount(); got != 10 {
		t.Errorf("uploads = %d, want 10", got)
	}
	for idx, n := range tex.loads {
		if n != 1 {
			t.Errorf("page %d loaded %d times", idx, n)
		}
	}
}

func TestStreamer_FailureDoesNotStopWorker(t *testing.T) {
	tex := newRecordingTexture()
	tex.fail[2] = true
	tex.panics[3] = true

	var mu sync.Mutex
	var errs []error
	q := NewQueue(32)
	s := NewStreamer(q, WithOnLoaded(func(_ Request, err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}))
	s.Start()
	defer s.Stop()

	q.Submit(texRequests(tex, 0, 6))
	waitFor(t, "all requests", func() bool { return s.Loaded()+s.Failed() == 6 })

	if s.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", s.Failed())
	}
	mu.Lock()
	defer mu.Unlock()
	var sawFail, sawPanic bool
	for _, err := range errs {
		sawFail = sawFail || errors.Is(err, errBadTile)
		sawPanic = sawPanic || errors.Is(err, ErrLoadPanic)
	}
	if !sawFail || !sawPanic {
		t.Errorf("errors = %v, want a load error and a panic error", errs)
	}

	// The worker is still alive.
	q.Submit(texRequests(tex, 10, 1))
	waitFor(t, "page after failures", func() bool { return s.Loaded() == 5 })
}

func TestStreamer_NilTextureIsFailure(t *testing.T) {
	q := NewQueue(4)
	s := NewStreamer(q)
	s.Start()
	defer s.Stop()

	q.Submit(requests(0, 1))
	waitFor(t, "failure", func() bool { return s.Failed() == 1 })
}

// =============================================================================
// Shutdown
// =============================================================================

func TestStreamer_StopWhileWaiting(t *testing.T) {
	q := NewQueue(8)
	s := NewStreamer(q)
	s.Start()
	waitFor(t, "waiting state", func() bool { return s.State() == StateWaiting })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case <-s.Stopped():
	default:
		t.Error("Stopped() not closed after Stop")
	}
	if s.StopAcks() != 1 {
		t.Errorf("StopAcks() = %d, want 1", s.StopAcks())
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if s.Wakeups() > 1 {
		t.Errorf("Wakeups() = %d, want at most 1", s.Wakeups())
	}
}

func TestStreamer_StopIsIdempotent(t *testing.T) {
	q := NewQueue(8)
	s := NewStreamer(q)
	s.Start()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
	s.Stop()

	if s.StopAcks() != 1 {
		t.Errorf("StopAcks() = %d, want 1", s.StopAcks())
	}
}

func TestStreamer_StopBeforeStart(t *testing.T) {
	s := NewStreamer(NewQueue(8))
	s.Stop()
	s.Start() // must not launch after Stop

	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if s.StopAcks() != 1 {
		t.Errorf("StopAcks() = %d, want 1", s.StopAcks())
	}
}

func TestStreamer_StopCancelsBlockedLoad(t *testing.T) {
	tex := newRecordingTexture()
	tex.block = make(chan struct{})
	tex.entered = make(chan struct{}, 1)

	q := NewQueue(8)
	s := NewStreamer(q)
	s.Start()
	q.Submit(texRequests(tex, 0, 3))

	select {
	case <-tex.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}

	s.Stop()

	if !tex.blockCtx.Load() {
		t.Error("LoadPage context was not cancelled by Stop")
	}
	if s.StopAcks() != 1 {
		t.Errorf("StopAcks() = %d, want 1", s.StopAcks())
	}
	// The remaining requests are abandoned, not loaded.
	if s.Loaded() != 0 {
		t.Errorf("Loaded() = %d, want 0", s.Loaded())
	}
}

func TestStreamer_SubmitAfterStop(t *testing.T) {
	q := NewQueue(8)
	s := NewStreamer(q)
	s.Start()
	s.Stop()

	// A late producer must not block.
	q.Submit(texRequests(newRecordingTexture(), 0, 3))
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	if n := q.Clear(); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "idle",
		StateWaiting: "waiting",
		StateLoading: "loading",
		StateStopped: "stopped",
		State(42):    "State(42)",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(st), got, want)
		}
	}
}
