// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package atlas

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vtstream/page"
)

// ErrNoQueue is returned by HALUploader when neither the uploader nor the
// streamed memory provides a HAL queue.
var ErrNoQueue = errors.New("atlas: no HAL queue available")

// Region is a texel rectangle of the atlas texture.
type Region struct {
	Origin gputypes.Origin3D
	Size   gputypes.Extent3D
}

// Uploader writes slot contents to the atlas texture. data holds
// Size.Width*Size.Height texels, bytesPerRow apart.
type Uploader interface {
	Upload(mem page.StreamedMemory, r Region, data []byte, bytesPerRow int) error
}

// halProvider is implemented by device providers that expose their HAL
// device and queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// HALUploader writes slots with hal.Queue.WriteTexture. If the streamed
// memory passed to Upload exposes a HAL queue, that queue is used instead
// of the uploader's own.
type HALUploader struct {
	texture hal.Texture
	queue   hal.Queue
}

// NewHALUploader creates an uploader for an atlas texture. queue may be
// nil if every upload supplies streamed memory with a HAL queue.
func NewHALUploader(queue hal.Queue, texture hal.Texture) *HALUploader {
	return &HALUploader{texture: texture, queue: queue}
}

// Upload implements Uploader.
func (u *HALUploader) Upload(mem page.StreamedMemory, r Region, data []byte, bytesPerRow int) error {
	q := u.queue
	if hp, ok := mem.(halProvider); ok {
		if mq, ok := hp.HalQueue().(hal.Queue); ok && mq != nil {
			q = mq
		}
	}
	if q == nil {
		return ErrNoQueue
	}

	dst := &hal.ImageCopyTexture{
		Texture:  u.texture,
		MipLevel: 0,
		Origin:   hal.Origin3D{X: r.Origin.X, Y: r.Origin.Y, Z: r.Origin.Z},
		Aspect:   gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		BytesPerRow:  uint32(bytesPerRow), //nolint:gosec // slot rows are small
		RowsPerImage: r.Size.Height,
	}
	size := &hal.Extent3D{
		Width:              r.Size.Width,
		Height:             r.Size.Height,
		DepthOrArrayLayers: 1,
	}
	if err := q.WriteTexture(dst, data, layout, size); err != nil {
		return fmt.Errorf("atlas: write texture: %w", err)
	}
	return nil
}

// NewHALAtlasTexture creates a texture sized and formatted for cfg that
// can be sampled and written with WriteTexture.
func NewHALAtlasTexture(device hal.Device, cfg Config) (hal.Texture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ext := cfg.Extent()
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label: "vtstream_atlas",
		Size: hal.Extent3D{
			Width:              ext.Width,
			Height:             ext.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        cfg.Format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: create texture: %w", err)
	}
	return tex, nil
}

// RegionUploader writes slots through a gpucontext texture.
type RegionUploader struct {
	dst gpucontext.TextureRegionUpdater
}

// NewRegionUploader creates an uploader writing into dst.
func NewRegionUploader(dst gpucontext.TextureRegionUpdater) *RegionUploader {
	return &RegionUploader{dst: dst}
}

// Upload implements Uploader. The streamed memory is unused.
func (u *RegionUploader) Upload(_ page.StreamedMemory, r Region, data []byte, bytesPerRow int) error {
	w, h := int(r.Size.Width), int(r.Size.Height)
	if bytesPerRow != w*BytesPerPixel {
		return fmt.Errorf("atlas: region upload needs packed rows, got stride %d for width %d", bytesPerRow, w)
	}
	return u.dst.UpdateRegion(int(r.Origin.X), int(r.Origin.Y), w, h, data)
}

// MemoryUploader keeps a CPU copy of the atlas texture.
type MemoryUploader struct {
	mu     sync.Mutex
	img    *image.RGBA
	writes int
}

// NewMemoryUploader creates a CPU mirror of an atlas with geometry cfg.
func NewMemoryUploader(cfg Config) *MemoryUploader {
	ext := cfg.Extent()
	return &MemoryUploader{img: image.NewRGBA(image.Rect(0, 0, int(ext.Width), int(ext.Height)))}
}

// Upload implements Uploader.
func (u *MemoryUploader) Upload(_ page.StreamedMemory, r Region, data []byte, bytesPerRow int) error {
	x, y := int(r.Origin.X), int(r.Origin.Y)
	w, h := int(r.Size.Width), int(r.Size.Height)
	if !image.Rect(x, y, x+w, y+h).In(u.img.Bounds()) {
		return fmt.Errorf("atlas: region %dx%d at (%d,%d) outside atlas", w, h, x, y)
	}
	if len(data) < (h-1)*bytesPerRow+w*BytesPerPixel {
		return fmt.Errorf("atlas: %d bytes too short for %dx%d region", len(data), w, h)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for row := 0; row < h; row++ {
		dst := u.img.Pix[u.img.PixOffset(x, y+row):]
		copy(dst[:w*BytesPerPixel], data[row*bytesPerRow:])
	}
	u.writes++
	return nil
}

// Pixel returns the texel at (x, y).
func (u *MemoryUploader) Pixel(x, y int) [4]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	o := u.img.PixOffset(x, y)
	return [4]byte(u.img.Pix[o : o+4])
}

// Image returns a copy of the mirrored atlas.
func (u *MemoryUploader) Image() *image.RGBA {
	u.mu.Lock()
	defer u.mu.Unlock()
	img := image.NewRGBA(u.img.Rect)
	copy(img.Pix, u.img.Pix)
	return img
}

// Writes returns the number of successful uploads.
func (u *MemoryUploader) Writes() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writes
}
