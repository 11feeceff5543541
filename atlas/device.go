// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package atlas

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// HALDevice adapts an opened HAL device to gpucontext.DeviceProvider, so
// it can be passed as page.StreamedMemory. It also exposes the raw HAL
// handles, which HALUploader prefers over its own queue.
type HALDevice struct {
	device hal.Device
	queue  hal.Queue
	info   gpucontext.AdapterInfo
}

// NewHALDevice wraps an opened device.
func NewHALDevice(open hal.OpenDevice, info gpucontext.AdapterInfo) *HALDevice {
	return &HALDevice{device: open.Device, queue: open.Queue, info: info}
}

var _ gpucontext.DeviceProvider = (*HALDevice)(nil)

// Device implements gpucontext.DeviceProvider.
func (d *HALDevice) Device() gpucontext.Device { return d.device }

// Queue implements gpucontext.DeviceProvider.
func (d *HALDevice) Queue() gpucontext.Queue { return d.queue }

// SurfaceFormat reports no surface; atlas devices are headless.
func (d *HALDevice) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// Adapter implements gpucontext.DeviceProvider. It returns nil.
func (d *HALDevice) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo implements gpucontext.DeviceProvider.
func (d *HALDevice) AdapterInfo() gpucontext.AdapterInfo { return d.info }

// HalDevice returns the HAL device.
func (d *HALDevice) HalDevice() any { return d.device }

// HalQueue returns the HAL queue.
func (d *HALDevice) HalQueue() any { return d.queue }

// Destroy releases the device.
func (d *HALDevice) Destroy() {
	d.device.Destroy()
}
