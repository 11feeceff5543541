// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/vtstream/page"
)

// sparseSource hides every tile of level 2 except (0,0) and fails on
// request when failAt is set.
type sparseSource struct {
	*PatternSource
	failAt atomic.Int32
	calls  atomic.Int32
}

var errDisk = errors.New("disk on fire")

func (s *sparseSource) Tile(ctx context.Context, level, x, y int) ([]byte, error) {
	n := s.calls.Add(1)
	if f := s.failAt.Load(); f > 0 && n == f {
		return nil, errDisk
	}
	if level == 2 && (x != 0 || y != 0) {
		return nil, ErrNotFound
	}
	return s.PatternSource.Tile(ctx, level, x, y)
}

func buildPack(t *testing.T, src Source, levels int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, BuildPack(context.Background(), &buf, src, levels, WithWorkers(3)))
	return buf.Bytes()
}

func TestPack_RoundTrip(t *testing.T) {
	src := NewPatternSource(4, 16)
	data := buildPack(t, src, 4)

	p, err := ReadPack(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, p.PageSize())
	assert.Equal(t, 4, p.Levels())

	ctx := context.Background()
	for level := 0; level < 4; level++ {
		side := 1 << level
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				want, err := src.Tile(ctx, level, x, y)
				require.NoError(t, err)
				got, err := p.Tile(ctx, level, x, y)
				require.NoError(t, err)
				require.Equal(t, want, got, "tile %d/%d_%d", level, x, y)
			}
		}
	}

	// Flat tiles with a border compress far below their raw size.
	assert.Less(t, len(data), 85*TileBytes(src)/4)
}

func TestPack_MissingTiles(t *testing.T) {
	src := &sparseSource{PatternSource: NewPatternSource(3, 8)}
	p, err := ReadPack(bytes.NewReader(buildPack(t, src, 3)))
	require.NoError(t, err)

	assert.True(t, p.Has(2, 0, 0))
	assert.False(t, p.Has(2, 1, 0))

	_, err = p.Tile(context.Background(), 2, 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.Tile(context.Background(), 3, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPack_PartialLevels(t *testing.T) {
	p, err := ReadPack(bytes.NewReader(buildPack(t, NewPatternSource(5, 8), 2)))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Levels())
}

func TestBuildPack_Errors(t *testing.T) {
	var buf bytes.Buffer
	src := NewPatternSource(2, 8)

	assert.Error(t, BuildPack(context.Background(), &buf, src, 3))
	assert.Error(t, BuildPack(context.Background(), &buf, src, 0))

	failing := &sparseSource{PatternSource: src}
	failing.failAt.Store(2)
	err := BuildPack(context.Background(), &buf, failing, 2, WithWorkers(1))
	assert.ErrorIs(t, err, errDisk)
}

func TestReadPack_Invalid(t *testing.T) {
	good := buildPack(t, NewPatternSource(2, 8), 2)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"bad version", append(append([]byte("VTPK"), 9, 0), good[6:]...)},
		{"truncated index", good[:packHeaderSize+4]},
		{"index larger than file", packHeader(page.MaxLevels)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPack(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrBadPack)
		})
	}
}

// packHeader returns a header announcing a full index for levels and no
// index data.
func packHeader(levels int) []byte {
	hdr := []byte(packMagic)
	hdr = binary.LittleEndian.AppendUint16(hdr, packVersion)
	hdr = binary.LittleEndian.AppendUint16(hdr, 8)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(levels)) //nolint:gosec // test input
	hdr = binary.LittleEndian.AppendUint16(hdr, 0)
	return binary.LittleEndian.AppendUint32(hdr, uint32(page.Count(levels))) //nolint:gosec // test input
}

// unsizedReader hides the Size method of the wrapped reader.
type unsizedReader struct{ io.ReaderAt }

func TestReadPack_UnsizedReader(t *testing.T) {
	_, err := ReadPack(unsizedReader{bytes.NewReader(packHeader(page.MaxLevels))})
	assert.ErrorIs(t, err, ErrBadPack)

	good := buildPack(t, NewPatternSource(3, 8), 3)
	p, err := ReadPack(unsizedReader{bytes.NewReader(good)})
	require.NoError(t, err)
	pix, err := p.Tile(context.Background(), 2, 3, 1)
	require.NoError(t, err)
	assert.Len(t, pix, TileBytes(p))
}

func TestPackSource_TileExtentOutOfRange(t *testing.T) {
	good := buildPack(t, NewPatternSource(1, 8), 1)
	bad := append([]byte(nil), good...)
	// Entry 0 claims a tile running past the end of the file.
	binary.LittleEndian.PutUint32(bad[packHeaderSize+8:], uint32(maxEncodedLen(8*8*BytesPerPixel)))

	p, err := ReadPack(bytes.NewReader(bad))
	require.NoError(t, err)
	_, err = p.Tile(context.Background(), 0, 0, 0)
	assert.ErrorIs(t, err, ErrBadPack)

	binary.LittleEndian.PutUint32(bad[packHeaderSize+8:], 1<<31)
	p, err = ReadPack(unsizedReader{bytes.NewReader(bad)})
	require.NoError(t, err)
	_, err = p.Tile(context.Background(), 0, 0, 0)
	assert.ErrorIs(t, err, ErrBadPack)
}

func TestOpenPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.vtpk")
	require.NoError(t, os.WriteFile(path, buildPack(t, NewPatternSource(2, 8), 2), 0o600))

	p, err := OpenPack(path)
	require.NoError(t, err)
	defer func() { assert.NoError(t, p.Close()) }()

	pix, err := p.Tile(context.Background(), 1, 1, 1)
	require.NoError(t, err)
	assert.Len(t, pix, TileBytes(p))

	_, err = OpenPack(filepath.Join(t.TempDir(), "missing.vtpk"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
