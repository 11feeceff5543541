// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package texture provides a virtual texture backed by a tile source and a
// page atlas.
//
// A Texture implements page.VirtualTexture: the streaming worker calls
// LoadPage to fetch a tile from the source and UploadPage to place it in an
// atlas slot. Several textures may share one atlas; pages are evicted in
// least recently used order across all of them.
package texture

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/gogpu/vtstream/atlas"
	"github.com/gogpu/vtstream/page"
	"github.com/gogpu/vtstream/tile"
)

// ErrMismatch is returned by New when the source does not fit the atlas.
var ErrMismatch = errors.New("texture: source does not match atlas")

// Stats is a snapshot of texture counters.
type Stats struct {
	// Loads counts tiles fetched from the source.
	Loads uint64

	// Reuses counts requests for pages that were already resident.
	Reuses uint64

	// Uploads counts pages written to the atlas.
	Uploads uint64

	// Evictions counts pages of any texture evicted to make room for
	// this texture's pages.
	Evictions uint64
}

// Option configures a Texture.
type Option func(*Texture)

// WithOnEvict installs a hook called on the streaming goroutine when one
// of this texture's uploads evicts a page from the atlas.
func WithOnEvict(fn func(atlas.Key)) Option {
	return func(t *Texture) {
		t.onEvict = fn
	}
}

// WithSparse makes ValidPage consult the source, so pages missing from a
// pack are never requested. The source must implement Has.
func WithSparse() Option {
	return func(t *Texture) {
		t.sparse = true
	}
}

// sparseSource is implemented by sources that know which tiles exist.
type sparseSource interface {
	Has(level, x, y int) bool
}

// Texture is a virtual texture whose pages come from a tile.Source and
// live in an atlas.Atlas.
type Texture struct {
	id       uint32
	src      tile.Source
	atlas    *atlas.Atlas
	log2Size int
	onEvict  func(atlas.Key)
	sparse   bool

	loads     atomic.Uint64
	reuses    atomic.Uint64
	uploads   atomic.Uint64
	evictions atomic.Uint64
}

var _ page.VirtualTexture = (*Texture)(nil)

// New creates a texture. id must be unique among textures sharing at.
func New(id uint32, src tile.Source, at *atlas.Atlas, opts ...Option) (*Texture, error) {
	ps := src.PageSize()
	if ps != at.Config().PageSize {
		return nil, fmt.Errorf("%w: page size %d, atlas page size %d", ErrMismatch, ps, at.Config().PageSize)
	}
	if ps <= 0 || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrMismatch, ps)
	}
	if src.Levels() <= 0 || src.Levels() > page.MaxLevels {
		return nil, fmt.Errorf("%w: %d levels", ErrMismatch, src.Levels())
	}

	t := &Texture{
		id:       id,
		src:      src,
		atlas:    at,
		log2Size: bits.Len(uint(ps)) - 1 + src.Levels() - 1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if _, ok := src.(sparseSource); t.sparse && !ok {
		return nil, fmt.Errorf("%w: sparse texture needs a source that reports missing tiles", ErrMismatch)
	}
	return t, nil
}

// ID returns the texture id.
func (t *Texture) ID() uint32 { return t.id }

// NumLevels returns the number of quadtree levels.
func (t *Texture) NumLevels() int { return t.src.Levels() }

// Log2Size returns log2 of the texture side at the finest level.
func (t *Texture) Log2Size() int { return t.log2Size }

// ValidPage reports whether idx is a page of this texture.
func (t *Texture) ValidPage(idx page.Index) bool {
	if !idx.Valid(t.src.Levels()) {
		return false
	}
	if t.sparse {
		x, y := idx.XY()
		return t.src.(sparseSource).Has(idx.Level(), x, y)
	}
	return true
}

func (t *Texture) key(idx page.Index) atlas.Key {
	return atlas.Key{Texture: t.id, Index: idx}
}

// LoadPage fetches the tile of idx. If the page is already resident it is
// marked as recently used and LoadPage returns a nil payload.
func (t *Texture) LoadPage(ctx context.Context, _ page.StreamedMemory, idx page.Index) ([]byte, error) {
	if t.atlas.Touch(t.key(idx)) {
		t.reuses.Add(1)
		return nil, nil
	}
	x, y := idx.XY()
	pix, err := t.src.Tile(ctx, idx.Level(), x, y)
	if err != nil {
		return nil, err
	}
	t.loads.Add(1)
	return pix, nil
}

// UploadPage places a tile in the atlas, evicting the least recently used
// page if needed. A nil payload is a no-op.
func (t *Texture) UploadPage(mem page.StreamedMemory, idx page.Index, data []byte) error {
	if data == nil {
		return nil
	}
	k := t.key(idx)
	slot, evicted, ok := t.atlas.Acquire(k)
	if ok {
		t.evictions.Add(1)
		if t.onEvict != nil {
			t.onEvict(evicted)
		}
	}
	if err := t.atlas.Upload(mem, slot, data); err != nil {
		t.atlas.Release(k)
		return err
	}
	t.uploads.Add(1)
	return nil
}

// Resident reports whether the page is in the atlas.
func (t *Texture) Resident(idx page.Index) bool {
	_, ok := t.atlas.Lookup(t.key(idx))
	return ok
}

// Slot returns the atlas slot of a resident page.
func (t *Texture) Slot(idx page.Index) (atlas.Slot, bool) {
	return t.atlas.Lookup(t.key(idx))
}

// ResidentAncestor returns the finest resident page covering idx: idx
// itself or its nearest resident parent. It reports false if no level is
// resident.
func (t *Texture) ResidentAncestor(idx page.Index) (page.Index, atlas.Slot, bool) {
	for {
		if s, ok := t.Slot(idx); ok {
			return idx, s, true
		}
		parent, ok := idx.Parent()
		if !ok {
			return 0, atlas.Slot{}, false
		}
		idx = parent
	}
}

// Stats returns a snapshot of the texture counters.
func (t *Texture) Stats() Stats {
	return Stats{
		Loads:     t.loads.Load(),
		Reuses:    t.reuses.Load(),
		Uploads:   t.uploads.Load(),
		Evictions: t.evictions.Load(),
	}
}
