// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"math"
	"math/rand/v2"

	"github.com/gogpu/vtstream"
	"github.com/gogpu/vtstream/shader"
)

// scene produces the feedback buffer a camera flying over a row of
// textured quads would render. Each bound unit fills one vertical strip of
// the screen.
type scene struct {
	width, height int
	rng           *rand.Rand
	buf           []byte

	// pan is the texture space offset of the left edge, zoom the fraction
	// of the texture visible across one strip.
	pan, zoom float64
}

func newScene(width, height int, seed uint64) *scene {
	return &scene{
		width:  width,
		height: height,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // not for crypto
		buf:    make([]byte, width*height*4),
		zoom:   1,
	}
}

// step advances the camera by one frame.
func (s *scene) step() {
	s.pan = math.Mod(s.pan+0.01+s.rng.Float64()*0.01, 1)
	s.zoom = min(max(s.zoom*(0.9+s.rng.Float64()*0.2), 1.0/64), 1)
}

// render writes one feedback texel per pixel for units and returns the
// buffer. Units with no bound texture leave their strip cleared.
func (s *scene) render(units []vtstream.Unit) []byte {
	empty := shader.PackTexel(int(shader.ClearColor.R*255), 0, 0, 0)
	if len(units) == 0 {
		for i := 0; i < len(s.buf); i += 4 {
			copy(s.buf[i:], empty[:])
		}
		return s.buf
	}

	strip := max(s.width/len(units), 1)
	for py := range s.height {
		v := s.pan*0.5 + float64(py)/float64(s.height)*s.zoom
		for px := range s.width {
			o := (py*s.width + px) * 4
			unit := min(px/strip, len(units)-1)
			u := units[unit]
			if u.Log2Size == 0 && u.MaxLOD == 0 {
				copy(s.buf[o:], empty[:])
				continue
			}

			// Texels of the finest level covered by one pixel.
			texels := s.zoom * math.Exp2(float64(u.Log2Size)) / float64(strip)
			lod := float32(math.Log2(texels))
			level := shader.SelectLevel(u, lod)

			uc := s.pan + float64(px%strip)/float64(strip)*s.zoom
			n := 1 << level
			x := int(math.Mod(uc, 1) * float64(n))
			y := int(math.Mod(v, 1) * float64(n))
			t := shader.PackTexel(unit, level, min(x, n-1), min(y, n-1))
			copy(s.buf[o:], t[:])
		}
	}
	return s.buf
}
