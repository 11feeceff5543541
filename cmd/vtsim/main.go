// Command vtsim drives the virtual texture streaming pipeline with a
// synthetic camera and reports what was streamed.
//
// Pages come from a tile pack given in the config or by -pack, or from a
// generated test pattern. The atlas lives on the HAL noop device, so the
// full load and upload path runs without a GPU.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/vtstream"
	"github.com/gogpu/vtstream/atlas"
	"github.com/gogpu/vtstream/config"
	"github.com/gogpu/vtstream/page"
	"github.com/gogpu/vtstream/shader"
	"github.com/gogpu/vtstream/texture"
	"github.com/gogpu/vtstream/tile"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "TOML config file")
		packPath  = flag.String("pack", "", "tile pack (overrides sim.pack)")
		writePack = flag.String("write-pack", "", "write the test pattern pack to this file and exit")
		frames    = flag.Int("frames", -1, "frames to simulate (overrides sim.frames)")
		compile   = flag.Bool("shader", false, "compile the feedback shader on the device")
		dump      = flag.Bool("dump-config", false, "print the effective config and exit")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatal(err)
		}
	}
	if *packPath != "" {
		cfg.Sim.Pack = *packPath
	}
	if *frames >= 0 {
		cfg.Sim.Frames = *frames
	}

	if *dump {
		data, err := cfg.Marshal()
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(data) //nolint:errcheck // stdout
		return
	}

	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	vtstream.SetLogger(logger)

	ctx := context.Background()
	if *writePack != "" {
		if err := buildPatternPack(ctx, *writePack, cfg); err != nil {
			log.Fatalf("Failed to write pack: %v", err)
		}
		log.Printf("Pack saved to %s (%d levels, %d pixel pages)\n", *writePack, cfg.Sim.Levels, cfg.Atlas.PageSize)
		return
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := run(ctx, logger, cfg, *compile); err != nil {
		log.Fatal(err)
	}
}

// buildPatternPack writes the test pattern as a tile pack.
func buildPatternPack(ctx context.Context, path string, cfg config.Config) (err error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	src := tile.NewPatternSource(cfg.Sim.Levels, cfg.Atlas.PageSize)
	return tile.BuildPack(ctx, f, src, cfg.Sim.Levels)
}

// openSource opens the configured pack, or builds the test pattern pack in
// a temporary file.
func openSource(ctx context.Context, cfg config.Config) (*tile.PackSource, func(), error) {
	path := cfg.Sim.Pack
	cleanup := func() {}
	if path == "" {
		dir, err := os.MkdirTemp("", "vtsim")
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { os.RemoveAll(dir) } //nolint:errcheck // best effort
		path = filepath.Join(dir, "pattern.vtpk")
		if err := buildPatternPack(ctx, path, cfg); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	pack, err := tile.OpenPack(path)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return pack, func() {
		pack.Close() //nolint:errcheck // read-only
		cleanup()
	}, nil
}

// report is the outcome of a simulation.
type report struct {
	stream   vtstream.Stats
	atlas    atlas.Stats
	textures []texture.Stats
	levels   []uint64
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, compile bool) error {
	acfg, err := cfg.Atlas.Config()
	if err != nil {
		return err
	}

	open, err := (&noop.Adapter{}).Open(0, gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	dev := atlas.NewHALDevice(open, gpucontext.AdapterInfo{Name: "noop", Type: gpucontext.AdapterTypeSoftware})
	defer dev.Destroy()

	if compile {
		words, err := shader.CompileFeedback(shader.Params{Units: cfg.Sim.Textures})
		if err != nil {
			return err
		}
		m, err := shader.CreateShaderModule(open.Device, "vt_feedback", words)
		if err != nil {
			return err
		}
		defer open.Device.DestroyShaderModule(m)
		logger.Info("vtsim: feedback shader compiled", "words", len(words), "units", cfg.Sim.Textures)
	}

	atlasTex, err := atlas.NewHALAtlasTexture(open.Device, acfg)
	if err != nil {
		return err
	}
	defer open.Device.DestroyTexture(atlasTex)

	at, err := atlas.New(acfg, atlas.NewHALUploader(nil, atlasTex))
	if err != nil {
		return err
	}

	pack, closePack, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePack()

	logger.Info("vtsim: simulating", "frames", cfg.Sim.Frames, "textures", cfg.Sim.Textures,
		"levels", pack.Levels(), "atlas_slots", at.Cap())
	r, err := simulate(cfg, dev, pack, at)
	if err != nil {
		return err
	}
	printReport(r, at)
	return nil
}

// simulate runs cfg.Sim.Frames frames over textures that share at, waits
// for the queue to drain, and closes the analyzer.
func simulate(cfg config.Config, mem page.StreamedMemory, src tile.Source, at *atlas.Atlas) (report, error) {
	// Pages streamed per quadtree level.
	levels := make([]atomic.Uint64, page.MaxLevels)
	opts := append(cfg.Options(), vtstream.WithOnLoaded(func(d page.Descriptor, err error) {
		if err == nil {
			levels[d.Index.Level()].Add(1)
		}
	}))
	a := vtstream.New(opts...)

	textures := make([]*texture.Texture, cfg.Sim.Textures)
	for i := range textures {
		var topts []texture.Option
		if _, ok := src.(*tile.PackSource); ok {
			topts = append(topts, texture.WithSparse())
		}
		t, err := texture.New(uint32(i+1), src, at, topts...) //nolint:gosec // textures < MaxTextureUnits
		if err != nil {
			a.Close()
			return report{}, err
		}
		textures[i] = t
	}

	sc := newScene(cfg.Sim.FeedbackWidth, cfg.Sim.FeedbackHeight, cfg.Sim.Seed)
	for range cfg.Sim.Frames {
		a.Begin(mem)
		for unit, t := range textures {
			a.BindTexture(unit, t)
		}
		a.AddFeedbackData(sc.render(a.Units()))
		a.End()
		sc.step()
	}

	drained := waitDrained(a, 5*time.Second)
	a.Close()
	if !drained {
		return report{}, errors.New("vtsim: streaming queue did not drain")
	}

	r := report{stream: a.Stats(), atlas: at.Stats()}
	for _, t := range textures {
		r.textures = append(r.textures, t.Stats())
	}
	for i := range src.Levels() {
		r.levels = append(r.levels, levels[i].Load())
	}
	return r, nil
}

// waitDrained waits until every submitted page has been processed.
func waitDrained(a *vtstream.Analyzer, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := a.Stats()
		if st.QueueLength == 0 && st.PagesLoaded+st.LoadFailures >= st.PagesSubmitted {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func printReport(r report, at *atlas.Atlas) {
	fmt.Printf("frames:    %d\n", r.stream.Frames)
	fmt.Printf("decoded:   %d pages\n", r.stream.PagesDecoded)
	fmt.Printf("submitted: %d pages (%d dropped)\n", r.stream.PagesSubmitted, r.stream.PagesDropped)
	fmt.Printf("loaded:    %d pages (%d failed)\n", r.stream.PagesLoaded, r.stream.LoadFailures)
	fmt.Printf("atlas:     %d/%d slots, %d evictions\n", at.Len(), at.Cap(), r.atlas.Evictions)
	for i, t := range r.textures {
		fmt.Printf("texture %d: %d loads, %d reuses, %d uploads\n", i+1, t.Loads, t.Reuses, t.Uploads)
	}
	for level, n := range r.levels {
		if n > 0 {
			fmt.Printf("level %2d:  %d pages\n", level, n)
		}
	}
}
