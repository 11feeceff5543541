// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package atlas manages the physical page cache of virtual textures: a
// single GPU texture divided into a grid of fixed-size slots, each holding
// one resident page.
//
// Slots are handed out in least recently used order once the atlas is
// full. Each slot carries a border of replicated edge pixels around the
// page so that bilinear filtering at page edges does not bleed into the
// neighboring slot.
//
// Page contents are written through an Uploader: directly to a HAL texture
// (HALUploader), through a gpucontext texture (RegionUploader), or into a
// CPU mirror (MemoryUploader).
package atlas

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vtstream/page"
)

// Key identifies a page of a virtual texture.
type Key = page.Key

// Atlas errors.
var (
	// ErrInvalidConfig is returned by New for unusable geometry.
	ErrInvalidConfig = errors.New("atlas: invalid config")

	// ErrUnsupportedFormat is returned for texture formats other than the
	// 8-bit four channel formats.
	ErrUnsupportedFormat = errors.New("atlas: unsupported texture format")

	// ErrPageSize is returned by Upload when the page data does not match
	// the configured page size.
	ErrPageSize = errors.New("atlas: page data has wrong size")
)

// BytesPerPixel is the texel size of every supported format.
const BytesPerPixel = 4

var supportedFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
}

// ParseFormat returns the texture format named name, case-insensitively,
// e.g. "rgba8unorm" or "BGRA8UnormSrgb".
func ParseFormat(name string) (gputypes.TextureFormat, error) {
	for _, f := range supportedFormats {
		if strings.EqualFold(f.String(), name) {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

func isBGRA(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBGRA8Unorm || f == gputypes.TextureFormatBGRA8UnormSrgb
}

// Config describes the atlas geometry.
type Config struct {
	// PageSize is the side of a page in pixels, without border.
	PageSize int

	// Border is the number of replicated edge pixels around each page.
	Border int

	// PagesX and PagesY are the slot grid dimensions.
	PagesX int
	PagesY int

	// Format is the atlas texture format.
	Format gputypes.TextureFormat
}

// DefaultConfig returns a 32x32 slot atlas of 128 pixel pages with a
// 4 pixel border in RGBA8Unorm.
func DefaultConfig() Config {
	return Config{
		PageSize: 128,
		Border:   4,
		PagesX:   32,
		PagesY:   32,
		Format:   gputypes.TextureFormatRGBA8Unorm,
	}
}

// Validate checks the geometry and format.
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.Border < 0 || c.Border > c.PageSize {
		return fmt.Errorf("%w: page size %d, border %d", ErrInvalidConfig, c.PageSize, c.Border)
	}
	if c.PagesX <= 0 || c.PagesY <= 0 {
		return fmt.Errorf("%w: %dx%d slots", ErrInvalidConfig, c.PagesX, c.PagesY)
	}
	const maxDim = 1 << 16
	if c.PagesX*c.SlotSize() > maxDim || c.PagesY*c.SlotSize() > maxDim {
		return fmt.Errorf("%w: %dx%d texels exceeds %d", ErrInvalidConfig,
			c.PagesX*c.SlotSize(), c.PagesY*c.SlotSize(), maxDim)
	}
	for _, f := range supportedFormats {
		if f == c.Format {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, c.Format)
}

// SlotSize returns the side of a slot in pixels, border included.
func (c Config) SlotSize() int {
	return c.PageSize + 2*c.Border
}

// Slots returns the number of slots.
func (c Config) Slots() int {
	return c.PagesX * c.PagesY
}

// Extent returns the size of the atlas texture.
func (c Config) Extent() gputypes.Extent3D {
	return gputypes.NewExtent2D(uint32(c.PagesX*c.SlotSize()), uint32(c.PagesY*c.SlotSize())) //nolint:gosec // validated
}

// Slot is a position in the atlas grid.
type Slot struct {
	Index int
	X, Y  int
}

// Region returns the texel rectangle of a slot, border included.
func (c Config) Region(s Slot) Region {
	n := uint32(c.SlotSize()) //nolint:gosec // validated
	return Region{
		Origin: gputypes.Origin3D{X: uint32(s.X) * n, Y: uint32(s.Y) * n}, //nolint:gosec // slot coords are small
		Size:   gputypes.NewExtent2D(n, n),
	}
}

// Stats is a snapshot of atlas counters.
type Stats struct {
	Resident  int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Uploads   uint64
}

// Atlas allocates slots to pages. It is safe for concurrent use.
type Atlas struct {
	cfg Config
	up  Uploader

	mu        sync.Mutex
	pages     map[Key]*lruNode
	free      []int
	lru       lruList
	hits      uint64
	misses    uint64
	evictions uint64

	uploads atomic.Uint64
}

// New creates an atlas. up may be nil when pages are never uploaded.
func New(cfg Config, up Uploader) (*Atlas, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Atlas{
		cfg:   cfg,
		up:    up,
		pages: make(map[Key]*lruNode, cfg.Slots()),
	}
	a.resetFree()
	return a, nil
}

// resetFree fills the free list so that slot 0 is handed out first.
func (a *Atlas) resetFree() {
	n := a.cfg.Slots()
	a.free = a.free[:0]
	for i := n - 1; i >= 0; i-- {
		a.free = append(a.free, i)
	}
}

// Config returns the atlas geometry.
func (a *Atlas) Config() Config {
	return a.cfg
}

func (a *Atlas) slot(i int) Slot {
	return Slot{Index: i, X: i % a.cfg.PagesX, Y: i / a.cfg.PagesX}
}

// Acquire returns the slot of key, allocating one if the page is not
// resident. When the atlas is full the least recently used page is evicted
// and returned with ok set.
func (a *Atlas) Acquire(key Key) (slot Slot, evicted Key, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if node, hit := a.pages[key]; hit {
		a.hits++
		a.lru.MoveToFront(node)
		return node.slot, Key{}, false
	}
	a.misses++

	if n := len(a.free); n > 0 {
		slot = a.slot(a.free[n-1])
		a.free = a.free[:n-1]
	} else {
		victim := a.lru.RemoveOldest()
		delete(a.pages, victim.key)
		a.evictions++
		slot, evicted, ok = victim.slot, victim.key, true
	}
	a.pages[key] = a.lru.PushFront(key, slot)
	return slot, evicted, ok
}

// Lookup returns the slot of a resident page without updating recency.
func (a *Atlas) Lookup(key Key) (Slot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.pages[key]
	if !ok {
		return Slot{}, false
	}
	return node.slot, true
}

// Touch marks a resident page as recently used. It reports whether the
// page is resident.
func (a *Atlas) Touch(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.pages[key]
	if ok {
		a.lru.MoveToFront(node)
	}
	return ok
}

// Release frees the slot of a page. It reports whether the page was
// resident.
func (a *Atlas) Release(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.pages[key]
	if !ok {
		return false
	}
	a.lru.Remove(node)
	delete(a.pages, key)
	a.free = append(a.free, node.slot.Index)
	return true
}

// Reset releases every slot.
func (a *Atlas) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.pages)
	a.lru.Clear()
	a.resetFree()
}

// Len returns the number of resident pages.
func (a *Atlas) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lru.Len()
}

// Cap returns the number of slots.
func (a *Atlas) Cap() int {
	return a.cfg.Slots()
}

// Stats returns a snapshot of the atlas counters.
func (a *Atlas) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Resident:  a.lru.Len(),
		Capacity:  a.cfg.Slots(),
		Hits:      a.hits,
		Misses:    a.misses,
		Evictions: a.evictions,
		Uploads:   a.uploads.Load(),
	}
}

// Upload writes a page into slot. pix holds PageSize*PageSize RGBA8 pixels;
// the border is filled by replicating edge pixels and the data is swizzled
// for BGRA atlases. mem is passed to the uploader and may be nil.
func (a *Atlas) Upload(mem page.StreamedMemory, slot Slot, pix []byte) error {
	n := a.cfg.PageSize
	if len(pix) != n*n*BytesPerPixel {
		return fmt.Errorf("%w: %d bytes, want %d", ErrPageSize, len(pix), n*n*BytesPerPixel)
	}
	if a.up == nil {
		return nil
	}

	data := withBorder(pix, n, a.cfg.Border)
	if isBGRA(a.cfg.Format) {
		if &data[0] == &pix[0] {
			data = append([]byte(nil), pix...)
		}
		swizzleRB(data)
	}

	r := a.cfg.Region(slot)
	if err := a.up.Upload(mem, r, data, int(r.Size.Width)*BytesPerPixel); err != nil {
		return fmt.Errorf("atlas: upload slot %d: %w", slot.Index, err)
	}
	a.uploads.Add(1)
	return nil
}

// withBorder returns pix surrounded by border replicated edge pixels.
// With no border pix itself is returned.
func withBorder(pix []byte, n, border int) []byte {
	if border == 0 {
		return pix
	}
	size := n + 2*border
	row := n * BytesPerPixel
	out := make([]byte, size*size*BytesPerPixel)
	for y := 0; y < size; y++ {
		sy := min(max(y-border, 0), n-1)
		src := pix[sy*row : sy*row+row]
		dst := out[y*size*BytesPerPixel : (y+1)*size*BytesPerPixel]

		copy(dst[border*BytesPerPixel:], src)
		left, right := src[:BytesPerPixel], src[row-BytesPerPixel:]
		for x := 0; x < border; x++ {
			copy(dst[x*BytesPerPixel:], left)
			copy(dst[(border+n+x)*BytesPerPixel:], right)
		}
	}
	return out
}

func swizzleRB(pix []byte) {
	for i := 0; i+3 < len(pix); i += BytesPerPixel {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
