// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vtstream/page"
)

// Pack file layout, all integers little-endian:
//
//	header  "VTPK" version:u16 pageSize:u16 levels:u16 reserved:u16 count:u32
//	index   count x { offset:u64 length:u32 }, in page index order
//	data    encoded tiles
//
// A zero length entry marks a missing tile.
const (
	packMagic      = "VTPK"
	packVersion    = 1
	packHeaderSize = 16
	packEntrySize  = 12
	maxPackPage    = 1<<16 - 1

	// indexChunk is the number of index entries read per ReadAt.
	indexChunk = 4096
)

// ErrBadPack is returned when a pack file header or index is invalid.
var ErrBadPack = errors.New("tile: invalid pack file")

type packEntry struct {
	offset uint64
	length uint32
}

// PackSource reads tiles from a pack file. It is safe for concurrent use.
type PackSource struct {
	r        io.ReaderAt
	closer   io.Closer
	pageSize int
	levels   int
	size     int64 // -1 when r does not report its size
	entries  []packEntry
}

// OpenPack opens a pack file.
func OpenPack(path string) (*PackSource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("tile: open pack: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("tile: open pack: %w", err)
	}
	p, err := ReadPack(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// ReadPack reads a pack's header and index from r. Tiles are read lazily,
// so r must stay valid while the source is in use. If r has a Size method
// (bytes.Reader, io.SectionReader), index and tile extents are checked
// against it.
func ReadPack(r io.ReaderAt) (*PackSource, error) {
	var hdr [packHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadPack, err)
	}
	if string(hdr[:4]) != packMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadPack, hdr[:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != packVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadPack, v)
	}

	p := &PackSource{
		r:        r,
		pageSize: int(binary.LittleEndian.Uint16(hdr[6:])),
		levels:   int(binary.LittleEndian.Uint16(hdr[8:])),
		size:     -1,
	}
	if sz, ok := r.(interface{ Size() int64 }); ok {
		p.size = sz.Size()
	}
	count := int(binary.LittleEndian.Uint32(hdr[12:]))
	if p.pageSize == 0 || p.levels <= 0 || p.levels > page.MaxLevels || count != page.Count(p.levels) {
		return nil, fmt.Errorf("%w: page size %d, %d levels, %d entries", ErrBadPack, p.pageSize, p.levels, count)
	}

	if end := int64(packHeaderSize) + int64(count)*packEntrySize; p.size >= 0 && end > p.size {
		return nil, fmt.Errorf("%w: index of %d entries ends at %d, file is %d bytes", ErrBadPack, count, end, p.size)
	}

	// The index is read in chunks so a corrupt count on an unsized reader
	// fails at the first short read instead of allocating it all up front.
	buf := make([]byte, min(count, indexChunk)*packEntrySize)
	p.entries = make([]packEntry, 0, min(count, indexChunk))
	for read := 0; read < count; {
		n := min(count-read, indexChunk)
		b := buf[:n*packEntrySize]
		if _, err := r.ReadAt(b, int64(packHeaderSize+read*packEntrySize)); err != nil {
			return nil, fmt.Errorf("%w: index: %w", ErrBadPack, err)
		}
		for i := range n {
			e := b[i*packEntrySize:]
			p.entries = append(p.entries, packEntry{
				offset: binary.LittleEndian.Uint64(e),
				length: binary.LittleEndian.Uint32(e[8:]),
			})
		}
		read += n
	}
	return p, nil
}

// PageSize returns the tile side in pixels.
func (p *PackSource) PageSize() int { return p.pageSize }

// Levels returns the number of quadtree levels.
func (p *PackSource) Levels() int { return p.levels }

// Has reports whether the pack stores a tile at the address.
func (p *PackSource) Has(level, x, y int) bool {
	idx, ok := page.IndexOf(level, x, y)
	return ok && int(idx) < len(p.entries) && p.entries[idx].length > 0
}

// Tile reads and decodes one tile.
func (p *PackSource) Tile(ctx context.Context, level, x, y int) ([]byte, error) {
	if err := checkAddress(p.levels, level, x, y); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, _ := page.IndexOf(level, x, y)
	e := p.entries[idx]
	if e.length == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, idx)
	}

	if int(e.length) > maxEncodedLen(TileBytes(p)) ||
		(p.size >= 0 && (e.offset > uint64(p.size) || uint64(e.length) > uint64(p.size)-e.offset)) { //nolint:gosec // size >= 0
		return nil, fmt.Errorf("%w: tile %v extent %d+%d", ErrBadPack, idx, e.offset, e.length)
	}
	enc := make([]byte, e.length)
	if _, err := p.r.ReadAt(enc, int64(e.offset)); err != nil { //nolint:gosec // offsets come from our own writer
		return nil, fmt.Errorf("tile: read %v: %w", idx, err)
	}
	pix := make([]byte, TileBytes(p))
	if err := Decode(pix, enc); err != nil {
		return nil, fmt.Errorf("tile: %v: %w", idx, err)
	}
	return pix, nil
}

// Close closes the underlying file if the pack was opened with OpenPack.
func (p *PackSource) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// BuildOption configures BuildPack.
type BuildOption func(*buildOptions)

type buildOptions struct {
	workers int
}

// WithWorkers sets how many tiles are fetched and encoded concurrently.
// The default is GOMAXPROCS.
func WithWorkers(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// BuildPack writes the first levels levels of src as a pack file to w.
// Tiles the source reports as ErrNotFound are stored as missing.
func BuildPack(ctx context.Context, w io.Writer, src Source, levels int, opts ...BuildOption) error {
	o := buildOptions{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if levels <= 0 || levels > src.Levels() || levels > page.MaxLevels {
		return fmt.Errorf("tile: cannot pack %d levels of a %d level source", levels, src.Levels())
	}
	if src.PageSize() <= 0 || src.PageSize() > maxPackPage {
		return fmt.Errorf("tile: page size %d not representable in a pack", src.PageSize())
	}

	count := page.Count(levels)
	want := TileBytes(src)
	encoded := make([][]byte, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range encoded {
		g.Go(func() error {
			idx := page.Index(i) //nolint:gosec // count fits in uint32
			x, y := idx.XY()
			pix, err := src.Tile(gctx, idx.Level(), x, y)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("tile: build %v: %w", idx, err)
			}
			if len(pix) != want {
				return fmt.Errorf("tile: build %v: got %d bytes, want %d", idx, len(pix), want)
			}
			encoded[i] = Encode(pix)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	hdr := make([]byte, 0, packHeaderSize)
	hdr = append(hdr, packMagic...)
	hdr = binary.LittleEndian.AppendUint16(hdr, packVersion)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(src.PageSize())) //nolint:gosec // checked above
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(levels))         //nolint:gosec // <= MaxLevels
	hdr = binary.LittleEndian.AppendUint16(hdr, 0)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(count)) //nolint:gosec // <= Count(MaxLevels)
	if _, err := bw.Write(hdr); err != nil {
		return fmt.Errorf("tile: write pack header: %w", err)
	}

	offset := uint64(packHeaderSize + count*packEntrySize) //nolint:gosec // non-negative
	var entry [packEntrySize]byte
	for _, enc := range encoded {
		if len(enc) == 0 {
			clear(entry[:])
		} else {
			binary.LittleEndian.PutUint64(entry[:], offset)
			binary.LittleEndian.PutUint32(entry[8:], uint32(len(enc))) //nolint:gosec // tiles are far below 4 GiB
			offset += uint64(len(enc))
		}
		if _, err := bw.Write(entry[:]); err != nil {
			return fmt.Errorf("tile: write pack index: %w", err)
		}
	}
	for _, enc := range encoded {
		if _, err := bw.Write(enc); err != nil {
			return fmt.Errorf("tile: write pack data: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("tile: write pack: %w", err)
	}
	return nil
}
