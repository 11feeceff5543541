// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tile provides page tile storage for virtual textures: a compact
// tile encoding, sources that produce decoded RGBA8 tiles by quadtree
// address, and a single-file pack format.
//
// Tiles are addressed like pages: level 0 is the single coarsest tile and
// level L has 2^L x 2^L tiles.
package tile

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/gogpu/vtstream/page"
)

// Source errors.
var (
	// ErrNotFound is returned when a source has no tile at an address.
	ErrNotFound = errors.New("tile: not found")

	// ErrOutOfRange is returned for addresses outside the source's pyramid.
	ErrOutOfRange = errors.New("tile: address out of range")

	// ErrImageTooLarge is returned for tile images more than
	// MaxImageScale times the page size on a side.
	ErrImageTooLarge = errors.New("tile: image too large")
)

// MaxImageScale bounds the side of a tile image DirSource accepts, as a
// multiple of the page size.
const MaxImageScale = 8

// BytesPerPixel is the size of one RGBA8 pixel.
const BytesPerPixel = 4

// Source produces decoded tiles. Tile returns PageSize*PageSize RGBA8
// pixels, row-major. Implementations must be safe for concurrent use.
type Source interface {
	PageSize() int
	Levels() int
	Tile(ctx context.Context, level, x, y int) ([]byte, error)
}

// TileBytes returns the decoded size of one tile of a source.
func TileBytes(s Source) int {
	return s.PageSize() * s.PageSize() * BytesPerPixel
}

// checkAddress validates a tile address against a pyramid of levels.
func checkAddress(levels, level, x, y int) error {
	if level < 0 || level >= levels {
		return fmt.Errorf("%w: level %d of %d", ErrOutOfRange, level, levels)
	}
	side := 1 << level
	if x < 0 || y < 0 || x >= side || y >= side {
		return fmt.Errorf("%w: (%d,%d) at level %d", ErrOutOfRange, x, y, level)
	}
	return nil
}

// DirSource reads tiles from image files laid out as
// <root>/<level>/<x>_<y>.<ext>. PNG, JPEG, BMP, TIFF and WebP files are
// supported. Images whose size differs from the page size are resampled.
type DirSource struct {
	root     string
	ext      string
	pageSize int
	levels   int
	scaler   draw.Scaler
}

// NewDirSource creates a source over a directory tree. ext is the file
// extension without the dot, "png" when empty.
func NewDirSource(root string, levels, pageSize int, ext string) *DirSource {
	if ext == "" {
		ext = "png"
	}
	return &DirSource{
		root:     filepath.Clean(root),
		ext:      ext,
		pageSize: pageSize,
		levels:   levels,
		scaler:   draw.BiLinear,
	}
}

// PageSize returns the tile side in pixels.
func (s *DirSource) PageSize() int { return s.pageSize }

// Levels returns the number of quadtree levels.
func (s *DirSource) Levels() int { return s.levels }

// Path returns the file name of a tile.
func (s *DirSource) Path(level, x, y int) string {
	return filepath.Join(s.root, strconv.Itoa(level),
		strconv.Itoa(x)+"_"+strconv.Itoa(y)+"."+s.ext)
}

// Tile loads and decodes one tile.
func (s *DirSource) Tile(ctx context.Context, level, x, y int) ([]byte, error) {
	if err := checkAddress(s.levels, level, x, y); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(level, x, y)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("tile: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("tile: decode %s: %w", path, err)
	}
	if limit := s.pageSize * MaxImageScale; cfg.Width > limit || cfg.Height > limit {
		return nil, fmt.Errorf("%w: %s is %dx%d, limit %d", ErrImageTooLarge, path, cfg.Width, cfg.Height, limit)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tile: rewind %s: %w", path, err)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tile: decode %s: %w", path, err)
	}
	return s.toRGBA(img).Pix, nil
}

func (s *DirSource) toRGBA(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, s.pageSize, s.pageSize))
	b := img.Bounds()
	if b.Dx() == s.pageSize && b.Dy() == s.pageSize {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	s.scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// PatternSource generates tiles procedurally. Each tile is a flat color
// derived from its page index with a one pixel border, so tiles are cheap
// to produce and encode well.
type PatternSource struct {
	pageSize int
	levels   int
}

// NewPatternSource creates a procedural source.
func NewPatternSource(levels, pageSize int) *PatternSource {
	return &PatternSource{pageSize: pageSize, levels: levels}
}

// PageSize returns the tile side in pixels.
func (s *PatternSource) PageSize() int { return s.pageSize }

// Levels returns the number of quadtree levels.
func (s *PatternSource) Levels() int { return s.levels }

// Tile generates one tile.
func (s *PatternSource) Tile(ctx context.Context, level, x, y int) ([]byte, error) {
	if err := checkAddress(s.levels, level, x, y); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, _ := page.IndexOf(level, x, y)
	fill := PatternColor(idx)
	border := color.RGBA{A: 0xFF}

	n := s.pageSize
	pix := make([]byte, n*n*BytesPerPixel)
	for py := 0; py < n; py++ {
		for px := 0; px < n; px++ {
			c := fill
			if px == 0 || py == 0 || px == n-1 || py == n-1 {
				c = border
			}
			o := (py*n + px) * BytesPerPixel
			pix[o+0], pix[o+1], pix[o+2], pix[o+3] = c.R, c.G, c.B, c.A
		}
	}
	return pix, nil
}

// PatternColor returns the fill color PatternSource uses for a page.
func PatternColor(idx page.Index) color.RGBA {
	h := page.Key{Index: idx}.Hash()
	return color.RGBA{R: uint8(h), G: uint8(h >> 8), B: uint8(h >> 16), A: 0xFF} //nolint:gosec // truncation intended
}
