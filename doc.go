// Package vtstream streams virtual texture pages driven by GPU feedback.
//
// # Overview
//
// A virtual texture is too large to keep resident, so it is split into a
// mip-mapped quadtree of fixed-size pages. Each frame the renderer draws a
// low resolution feedback buffer recording, per pixel, which texture unit,
// mip level and page would have been sampled. vtstream reads that buffer
// back, works out the set of unique pages the frame needs and loads them on
// a background goroutine.
//
// # Quick Start
//
//	import "github.com/gogpu/vtstream"
//
//	a := vtstream.New()
//	defer a.Close()
//
//	for frame := range frames {
//	    a.Begin(device)
//	    a.BindTexture(0, terrain)
//	    // ... render, read back the feedback buffer ...
//	    a.AddFeedbackData(readback)
//	    a.End()
//	}
//
// # Feedback Format
//
// Feedback texels are 4 bytes. The first byte is the texture unit, or 0xFF
// when nothing was sampled. The remaining bytes pack the mip level and the
// page coordinates within that level. Package shader generates the WGSL
// that writes this format.
//
// # Architecture
//
// The library is organized into:
//   - Public API: Analyzer, Option, SetLogger
//   - page: page addressing and the VirtualTexture interface
//   - texture: a VirtualTexture backed by a tile source and a page atlas
//   - tile: tile codecs and sources (directory trees, pack files)
//   - atlas: physical page slots with LRU eviction and GPU upload
//   - shader: feedback pass WGSL and SPIR-V compilation
//   - config: TOML configuration
//   - Internal: feedback (decoding), stream (queue and worker)
//
// # Streaming
//
// The queue between End and the streaming goroutine is bounded. When it is
// full, the newest requests are dropped and will be requested again by the
// next frame's feedback. Pages are submitted most referenced first, so the
// pages covering most of the screen win under pressure.
package vtstream

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
