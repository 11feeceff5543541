// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader provides the GPU side of virtual texture feedback: the WGSL
// feedback pass, its compilation to SPIR-V, and Go mirrors of the shader's
// packing so feedback can be produced and checked on the CPU.
package shader

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vtstream"
)

//go:embed shaders/feedback.wgsl
var feedbackWGSL string

// Entry points of the feedback shader.
const (
	VertexEntry   = "vs_fullscreen"
	FragmentEntry = "fs_feedback"
)

// DefaultUnits is the unit array size used when Params.Units is zero.
const DefaultUnits = 16

// TargetFormat is the format of the feedback render target.
const TargetFormat = gputypes.TextureFormatRGBA8Unorm

// ClearColor clears the feedback target to "no texture sampled": the first
// byte of every texel becomes 0xFF.
var ClearColor = gputypes.Color{R: 1, G: 0, B: 0, A: 0}

// Uniform buffer sizes.
const (
	UnitStride = 16
	ParamsSize = 16
)

// ErrUnits is returned for unit counts the texel format cannot address.
var ErrUnits = errors.New("shader: unit count out of range")

// Params configures the generated feedback shader.
type Params struct {
	// Units is the length of the unit uniform array, 1..254.
	Units int
}

// FeedbackWGSL returns the WGSL source of the feedback pass.
func FeedbackWGSL(p Params) (string, error) {
	n := p.Units
	if n == 0 {
		n = DefaultUnits
	}
	if n < 1 || n > vtstream.MaxTextureUnits {
		return "", fmt.Errorf("%w: %d", ErrUnits, p.Units)
	}
	return strings.ReplaceAll(feedbackWGSL, "MAX_UNITS", strconv.Itoa(n)), nil
}

// Compile compiles WGSL source to SPIR-V words.
func Compile(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("shader: compile: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// CompileFeedback generates and compiles the feedback pass.
func CompileFeedback(p Params) ([]uint32, error) {
	src, err := FeedbackWGSL(p)
	if err != nil {
		return nil, err
	}
	return Compile(src)
}

// CreateShaderModule creates a HAL shader module from SPIR-V words.
func CreateShaderModule(device hal.Device, label string, spirv []uint32) (hal.ShaderModule, error) {
	m, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: label,
		Source: hal.ShaderSource{
			SPIRV: spirv,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shader: create module %q: %w", label, err)
	}
	return m, nil
}

// PackUnits writes the unit uniform array for units into a buffer of n
// entries. Entries past len(units) are zero.
func PackUnits(units []vtstream.Unit, n int) []byte {
	buf := make([]byte, n*UnitStride)
	for i, u := range units {
		if i >= n {
			break
		}
		o := i * UnitStride
		binary.LittleEndian.PutUint32(buf[o:], math.Float32bits(u.MaxLOD))
		binary.LittleEndian.PutUint32(buf[o+4:], math.Float32bits(u.Log2Size))
	}
	return buf
}

// PackParams writes the per-draw parameter uniform.
func PackParams(unit int, lodBias float32) []byte {
	buf := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(buf, uint32(unit)) //nolint:gosec // unit < MaxTextureUnits
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(lodBias))
	return buf
}

// SelectLevel returns the quadtree level fs_feedback picks for a unit at
// the given LOD, where LOD 0 samples the finest level one texel per pixel.
func SelectLevel(u vtstream.Unit, lod float32) int {
	level := u.MaxLOD - float32(math.Floor(float64(lod)))
	return int(min(max(level, 0), u.MaxLOD))
}

// PackTexel returns the bytes fs_feedback writes for a unit, level and page.
func PackTexel(unit, level, x, y int) [4]byte {
	return [4]byte{
		byte(unit),
		byte(x),
		byte(y),
		byte(level<<4 | (x>>8&3)<<2 | (y >> 8 & 3)),
	}
}
