// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// ErrCorrupt is returned when encoded tile data is malformed or does not
// decode to the expected size.
var ErrCorrupt = errors.New("tile: corrupt tile data")

// Block tags of the tile encoding. Each block is a tag byte followed by a
// little-endian uint32 length:
//
//	'r' <words> <8-byte pattern>   the pattern repeated words times
//	'd' <bytes> <raw bytes>        stored verbatim
//	'z' <bytes> <snappy block>     snappy compressed
//
// A tile is a run block for its leading repeated words, one 'd' or 'z'
// block for the rest and a run block for its trailing repeated words. Flat
// colored pages collapse to a single run block.
const (
	blockRun  = 'r'
	blockRaw  = 'd'
	blockZip  = 'z'
	headerLen = 5
	runLen    = headerLen + 8
	wordSize  = 8
)

// Encode compresses a tile payload, typically RGBA8 pixels.
func Encode(pix []byte) []byte {
	words := len(pix) / wordSize
	var prefix, suffix int

	if words > 0 {
		first := binary.LittleEndian.Uint64(pix)
		for prefix < words && binary.LittleEndian.Uint64(pix[prefix*wordSize:]) == first {
			prefix++
		}
		// A trailing run only applies when the payload ends on a word.
		if prefix < words && len(pix)%wordSize == 0 {
			last := binary.LittleEndian.Uint64(pix[(words-1)*wordSize:])
			for suffix < words-prefix && binary.LittleEndian.Uint64(pix[(words-1-suffix)*wordSize:]) == last {
				suffix++
			}
		}
	}
	if prefix == 1 {
		prefix = 0
	}
	if suffix == 1 {
		suffix = 0
	}

	var out []byte
	if prefix > 0 {
		out = appendRun(out, pix[:wordSize], prefix)
	}

	if rem := pix[prefix*wordSize : len(pix)-suffix*wordSize]; len(rem) > 0 {
		z := snappy.Encode(nil, rem)
		if len(z) >= len(rem) {
			out = appendBlock(out, blockRaw, rem)
		} else {
			out = appendBlock(out, blockZip, z)
		}
	}

	if suffix > 0 {
		out = appendRun(out, pix[len(pix)-wordSize:], suffix)
	}
	return out
}

func appendRun(out, pattern []byte, n int) []byte {
	out = append(out, blockRun)
	out = binary.LittleEndian.AppendUint32(out, uint32(n)) //nolint:gosec // n <= len(pix)/8
	return append(out, pattern[:wordSize]...)
}

func appendBlock(out []byte, tag byte, data []byte) []byte {
	out = append(out, tag)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data))) //nolint:gosec // tiles are far below 4 GiB
	return append(out, data...)
}

// maxEncodedLen bounds the size Encode produces for n payload bytes: two
// run blocks around one raw block.
func maxEncodedLen(n int) int {
	return n + headerLen + 2*runLen
}

// Decode decompresses src into dst. dst must have exactly the length of the
// encoded payload.
func Decode(dst, src []byte) error {
	out := dst
	for len(src) > 0 {
		if len(src) < headerLen {
			return fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		tag := src[0]
		n := int(binary.LittleEndian.Uint32(src[1:]))
		src = src[headerLen:]

		switch tag {
		case blockRun:
			if len(src) < wordSize {
				return fmt.Errorf("%w: truncated run pattern", ErrCorrupt)
			}
			if n > len(out)/wordSize {
				return fmt.Errorf("%w: run of %d words overflows tile", ErrCorrupt, n)
			}
			pattern := src[:wordSize]
			for i := 0; i < n; i++ {
				copy(out[i*wordSize:], pattern)
			}
			out = out[n*wordSize:]
			src = src[wordSize:]

		case blockRaw:
			if n > len(src) || n > len(out) {
				return fmt.Errorf("%w: raw block of %d bytes out of range", ErrCorrupt, n)
			}
			copy(out, src[:n])
			out = out[n:]
			src = src[n:]

		case blockZip:
			if n > len(src) {
				return fmt.Errorf("%w: snappy block of %d bytes out of range", ErrCorrupt, n)
			}
			m, err := snappy.DecodedLen(src[:n])
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			if m > len(out) {
				return fmt.Errorf("%w: snappy block decodes to %d bytes, %d left", ErrCorrupt, m, len(out))
			}
			if _, err := snappy.Decode(out[:m], src[:n]); err != nil {
				return fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			out = out[m:]
			src = src[n:]

		default:
			return fmt.Errorf("%w: unknown block tag %q", ErrCorrupt, tag)
		}
	}
	if len(out) != 0 {
		return fmt.Errorf("%w: %d bytes short", ErrCorrupt, len(out))
	}
	return nil
}
