// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(n int, c [4]byte) []byte {
	pix := make([]byte, n*BytesPerPixel)
	for i := 0; i < n; i++ {
		copy(pix[i*BytesPerPixel:], c[:])
	}
	return pix
}

func noise(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed))
	pix := make([]byte, n)
	for i := range pix {
		pix[i] = byte(r.Uint32())
	}
	return pix
}

func roundTrip(t *testing.T, pix []byte) []byte {
	t.Helper()
	enc := Encode(pix)
	got := make([]byte, len(pix))
	require.NoError(t, Decode(got, enc))
	assert.Equal(t, pix, got)
	return enc
}

func TestEncode_FlatTileIsSingleRun(t *testing.T) {
	pix := flat(128*128, [4]byte{10, 20, 30, 255})
	enc := roundTrip(t, pix)

	assert.Len(t, enc, runLen)
	assert.Equal(t, byte(blockRun), enc[0])
}

func TestEncode_NoiseIsStored(t *testing.T) {
	enc := roundTrip(t, noise(4096, 1))
	assert.Equal(t, byte(blockRaw), enc[0])
}

func TestEncode_RepetitiveDataIsCompressed(t *testing.T) {
	pix := make([]byte, 64*64*BytesPerPixel)
	for i := range pix {
		pix[i] = byte(i % 24)
	}
	enc := roundTrip(t, pix)

	assert.Equal(t, byte(blockZip), enc[0])
	assert.Less(t, len(enc), len(pix)/4)
}

func TestEncode_BorderedTile(t *testing.T) {
	// Leading and trailing runs around a compressed middle.
	pix := flat(32*32, [4]byte{0, 0, 0, 255})
	copy(pix[40*BytesPerPixel:], noise(200, 2))
	enc := roundTrip(t, pix)

	assert.Equal(t, byte(blockRun), enc[0])
	assert.Equal(t, byte(blockRun), enc[len(enc)-runLen])
}

func TestEncode_UnalignedLength(t *testing.T) {
	roundTrip(t, flat(5, [4]byte{1, 2, 3, 4}))
	roundTrip(t, noise(13, 3))
	roundTrip(t, []byte{7})
}

func TestEncode_Empty(t *testing.T) {
	assert.Empty(t, Encode(nil))
	assert.NoError(t, Decode(nil, nil))
}

func TestDecode_Corrupt(t *testing.T) {
	valid := Encode(noise(256, 4))

	tests := []struct {
		name string
		dst  int
		src  []byte
	}{
		{"truncated header", 256, []byte{blockRaw, 1}},
		{"unknown tag", 8, []byte{'x', 0, 0, 0, 0}},
		{"run overflows", 8, append([]byte{blockRun, 2, 0, 0, 0}, make([]byte, 8)...)},
		{"truncated run", 16, []byte{blockRun, 2, 0, 0, 0, 1, 2}},
		{"raw past input", 256, []byte{blockRaw, 0xFF, 0, 0, 0, 1}},
		{"output too short", 512, valid},
		{"output too long", 128, valid},
		{"bad snappy", 64, []byte{blockZip, 3, 0, 0, 0, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Decode(make([]byte, tt.dst), tt.src)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
