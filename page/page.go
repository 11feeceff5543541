// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package page defines the value types shared by the streaming pipeline and
// the collaborator interfaces a virtual texture table must implement.
package page

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/gogpu/gpucontext"
)

// StreamedMemory is the GPU memory service the renderer passes to
// Analyzer.Begin. The pipeline never calls into it; it is forwarded to
// VirtualTexture.LoadPage and VirtualTexture.UploadPage so per-page loads
// can allocate GPU resources. It may be nil.
type StreamedMemory = gpucontext.DeviceProvider

// VirtualTexture is a virtual texture table. Implementations own page
// residency and must be safe for concurrent use: ValidPage, NumLevels and
// Log2Size are called from the frame goroutine while LoadPage and
// UploadPage run on the streaming goroutine.
type VirtualTexture interface {
	// ID identifies the texture. IDs must be unique among textures bound
	// to the same analyzer.
	ID() uint32

	// NumLevels returns the number of quadtree levels of the texture.
	NumLevels() int

	// Log2Size returns log2 of the texture side in texels.
	Log2Size() int

	// ValidPage reports whether idx addresses a page of this texture.
	ValidPage(idx Index) bool

	// LoadPage fetches and decodes the page data. It may block on I/O.
	LoadPage(ctx context.Context, mem StreamedMemory, idx Index) ([]byte, error)

	// UploadPage hands decoded page data to the GPU residency path.
	UploadPage(mem StreamedMemory, idx Index, data []byte) error
}

// Key identifies a page request exactly.
type Key struct {
	Texture uint32
	Index   Index
}

// Hash returns a 32-bit FNV-1a hash of the key.
func (k Key) Hash() uint32 {
	var buf [8]byte
	buf[0] = byte(k.Texture)
	buf[1] = byte(k.Texture >> 8)
	buf[2] = byte(k.Texture >> 16)
	buf[3] = byte(k.Texture >> 24)
	buf[4] = byte(k.Index)
	buf[5] = byte(k.Index >> 8)
	buf[6] = byte(k.Index >> 16)
	buf[7] = byte(k.Index >> 24)
	h := fnv.New32a()
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return h.Sum32()
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("tex%d/%s", k.Texture, k.Index)
}

// Descriptor is a page request produced by feedback decoding.
// Descriptors are plain values and are copied into queues.
type Descriptor struct {
	// Texture is the texture the page belongs to. Not owned.
	Texture VirtualTexture

	// Key is the exact (texture, page) identity used for deduplication.
	Key Key

	// Hash is Key.Hash, kept for diagnostics.
	Hash uint32

	// RefCount is the number of feedback texels that referenced the page
	// during the decode cycle.
	RefCount uint32

	// Index is the page address inside the texture.
	Index Index
}

// NewDescriptor returns a descriptor for page idx of t with a reference
// count of one.
func NewDescriptor(t VirtualTexture, idx Index) Descriptor {
	key := Key{Texture: t.ID(), Index: idx}
	return Descriptor{
		Texture:  t,
		Key:      key,
		Hash:     key.Hash(),
		RefCount: 1,
		Index:    idx,
	}
}
