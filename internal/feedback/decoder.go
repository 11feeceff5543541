// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package feedback

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/vtstream/page"
)

// MaxLatency is the oldest binding table a chain can be resolved against.
// The analyzer keeps two tables: the current frame (0) and the previous
// frame (1).
const MaxLatency = 1

// Chain references one feedback readback buffer. The decoder does not
// retain Data after Decode returns.
type Chain struct {
	Data []byte

	// Latency is the number of frames between capture and decode.
	Latency int
}

// Resolver returns the texture bound to unit in the binding table that was
// active latency frames ago, or nil.
type Resolver func(latency, unit int) page.VirtualTexture

// PendingSet collects the unique page requests of one decode cycle.
// Pages are kept in first-seen order.
type PendingSet struct {
	pages []page.Descriptor
	index map[page.Key]int
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{index: make(map[page.Key]int)}
}

// Submit adds a request. If the page is already pending, its reference
// count grows by d.RefCount instead.
func (s *PendingSet) Submit(d page.Descriptor) {
	if i, ok := s.index[d.Key]; ok {
		s.pages[i].RefCount += d.RefCount
		return
	}
	if d.Hash == 0 {
		d.Hash = d.Key.Hash()
	}
	s.index[d.Key] = len(s.pages)
	s.pages = append(s.pages, d)
}

// Len returns the number of unique pages.
func (s *PendingSet) Len() int {
	return len(s.pages)
}

// Pages returns the pending pages. The slice is reused after Reset.
func (s *PendingSet) Pages() []page.Descriptor {
	return s.pages
}

// Reset empties the set, keeping its storage.
func (s *PendingSet) Reset() {
	clear(s.index)
	s.pages = s.pages[:0]
}

// Stats describes the last decode cycle.
type Stats struct {
	Chains        int
	SkippedChains int
	Texels        int
	DroppedTexels int
	UniquePages   int
}

// Decoder turns feedback chains into unique page requests. A Decoder is
// owned by the frame goroutine and is not safe for concurrent use, except
// for SetLogger.
type Decoder struct {
	pending *PendingSet
	stats   Stats
	logger  atomic.Pointer[slog.Logger]
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	d := &Decoder{pending: NewPendingSet()}
	d.SetLogger(nil)
	return d
}

// SetLogger sets the logger used for diagnostics. Passing nil disables
// logging.
func (d *Decoder) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.logger.Store(l)
}

// Stats returns statistics of the last Decode call.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Decode scans every texel of every chain and returns the unique pages
// referenced, in first-seen order. Texels naming an unbound unit or a page
// the bound texture does not own are dropped. The returned slice is only
// valid until the next call.
func (d *Decoder) Decode(chains []Chain, resolve Resolver) []page.Descriptor {
	d.pending.Reset()
	d.stats = Stats{Chains: len(chains)}

	for ci, c := range chains {
		n := len(c.Data) / TexelSize
		if n == 0 || c.Latency < 0 || c.Latency > MaxLatency {
			d.stats.SkippedChains++
			d.logger.Load().Debug("vtstream: skipping feedback chain",
				"chain", ci, "bytes", len(c.Data), "latency", c.Latency)
			continue
		}
		d.decodeChain(c, n, resolve)
	}

	d.stats.UniquePages = d.pending.Len()
	if d.stats.DroppedTexels > 0 {
		d.logger.Load().Debug("vtstream: dropped feedback texels",
			"dropped", d.stats.DroppedTexels, "texels", d.stats.Texels)
	}
	return d.pending.Pages()
}

func (d *Decoder) decodeChain(c Chain, n int, resolve Resolver) {
	var (
		lastUnit = -1
		lastTex  page.VirtualTexture
	)
	for i := 0; i < n; i++ {
		b := c.Data[i*TexelSize : i*TexelSize+TexelSize]
		d.stats.Texels++
		if b[0] == NoUnit {
			continue
		}

		t := Unpack(b)
		if t.Unit != lastUnit {
			lastUnit = t.Unit
			lastTex = resolve(c.Latency, t.Unit)
		}
		if lastTex == nil {
			d.stats.DroppedTexels++
			continue
		}

		idx, ok := t.PageIndex()
		if !ok || !lastTex.ValidPage(idx) {
			d.stats.DroppedTexels++
			continue
		}

		d.pending.Submit(page.Descriptor{
			Texture:  lastTex,
			Key:      page.Key{Texture: lastTex.ID(), Index: idx},
			RefCount: 1,
			Index:    idx,
		})
	}
}
