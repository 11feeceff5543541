// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/gogpu/vtstream/page"
)

func writeImage(t *testing.T, path string, img image.Image, encode func(*os.File, image.Image) error) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, encode(f, img))
}

func solid(size int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestDirSource_Path(t *testing.T) {
	s := NewDirSource("/data/vt", 4, 128, "")
	assert.Equal(t, filepath.Join("/data/vt", "2", "3_1.png"), s.Path(2, 3, 1))
}

func TestDirSource_PNG(t *testing.T) {
	root := t.TempDir()
	s := NewDirSource(root, 2, 16, "png")
	want := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	writeImage(t, s.Path(1, 1, 0), solid(16, want), func(f *os.File, img image.Image) error {
		return png.Encode(f, img)
	})

	pix, err := s.Tile(context.Background(), 1, 1, 0)
	require.NoError(t, err)
	require.Len(t, pix, TileBytes(s))
	assert.Equal(t, []byte{want.R, want.G, want.B, want.A}, pix[:4])
	assert.Equal(t, []byte{want.R, want.G, want.B, want.A}, pix[len(pix)-4:])
}

func TestDirSource_ResamplesBMP(t *testing.T) {
	root := t.TempDir()
	s := NewDirSource(root, 1, 16, "bmp")
	want := color.RGBA{R: 10, G: 220, B: 30, A: 255}
	writeImage(t, s.Path(0, 0, 0), solid(40, want), func(f *os.File, img image.Image) error {
		return bmp.Encode(f, img)
	})

	pix, err := s.Tile(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, pix, 16*16*BytesPerPixel)
	mid := (8*16 + 8) * BytesPerPixel
	for i, c := range []byte{want.R, want.G, want.B, want.A} {
		assert.InDelta(t, c, pix[mid+i], 1, "channel %d", i)
	}
}

func TestDirSource_RejectsOversizedImage(t *testing.T) {
	root := t.TempDir()
	s := NewDirSource(root, 2, 4, "png")
	encode := func(f *os.File, img image.Image) error { return png.Encode(f, img) }
	c := color.RGBA{R: 1, G: 2, B: 3, A: 255}

	writeImage(t, s.Path(1, 0, 0), solid(4*MaxImageScale, c), encode)
	_, err := s.Tile(context.Background(), 1, 0, 0)
	require.NoError(t, err, "an image at the limit is resampled")

	writeImage(t, s.Path(1, 1, 0), solid(4*MaxImageScale+1, c), encode)
	_, err = s.Tile(context.Background(), 1, 1, 0)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestDirSource_Errors(t *testing.T) {
	root := t.TempDir()
	s := NewDirSource(root, 2, 16, "png")

	_, err := s.Tile(context.Background(), 1, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Tile(context.Background(), 2, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = s.Tile(context.Background(), 1, 2, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "0"), 0o755))
	require.NoError(t, os.WriteFile(s.Path(0, 0, 0), []byte("not an image"), 0o600))
	_, err = s.Tile(context.Background(), 0, 0, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPatternSource(t *testing.T) {
	s := NewPatternSource(3, 8)
	pix, err := s.Tile(context.Background(), 2, 1, 3)
	require.NoError(t, err)
	require.Len(t, pix, TileBytes(s))

	idx, _ := page.IndexOf(2, 1, 3)
	c := PatternColor(idx)
	inner := (3*8 + 3) * BytesPerPixel
	assert.Equal(t, []byte{c.R, c.G, c.B, c.A}, pix[inner:inner+4])
	assert.Equal(t, []byte{0, 0, 0, 0xFF}, pix[:4], "border pixel")

	again, err := s.Tile(context.Background(), 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, pix, again, "tiles are deterministic")

	_, err = s.Tile(context.Background(), 3, 0, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPatternSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPatternSource(2, 8).Tile(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
