// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package feedback decodes GPU feedback readback buffers into unique page
// requests.
//
// A feedback buffer holds one 4-byte texel per sampled pixel, laid out as
// {A, R, G, B}:
//
//	A  texture unit, 0xFF when no virtual texture was sampled
//	R  page X, bits 0..7
//	G  page Y, bits 0..7
//	B  bits 4..7 quadtree level, bits 2..3 page X bits 8..9,
//	   bits 0..1 page Y bits 8..9
package feedback

import "github.com/gogpu/vtstream/page"

// TexelSize is the size of one feedback texel in bytes.
const TexelSize = 4

// NoUnit marks a texel that did not sample a virtual texture.
const NoUnit = 0xFF

// MaxCoord is the largest page coordinate a texel can carry.
const MaxCoord = 1<<10 - 1

// Texel is one decoded feedback sample.
type Texel struct {
	Unit  int
	Level int
	X, Y  int
}

// Unpack decodes the texel stored in b, which must hold at least
// TexelSize bytes.
func Unpack(b []byte) Texel {
	_ = b[3]
	a, r, g, bb := b[0], b[1], b[2], b[3]
	return Texel{
		Unit:  int(a),
		Level: int(bb >> 4),
		X:     int(r) | int(bb>>2&0x3)<<8,
		Y:     int(g) | int(bb&0x3)<<8,
	}
}

// Pack encodes t into b. Coordinates are masked to 10 bits and the level
// to 4 bits.
func Pack(b []byte, t Texel) {
	_ = b[3]
	b[0] = byte(t.Unit)
	b[1] = byte(t.X)
	b[2] = byte(t.Y)
	b[3] = byte(t.Level&0xF)<<4 | byte(t.X>>8&0x3)<<2 | byte(t.Y>>8&0x3)
}

// PageIndex returns the page index the texel addresses.
func (t Texel) PageIndex() (page.Index, bool) {
	return page.IndexOf(t.Level, t.X, t.Y)
}
