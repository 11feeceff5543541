// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads vtstream settings from TOML files.
//
// A file only needs the keys it changes; everything else keeps the values
// of Default. Unknown keys are rejected so typos do not go unnoticed.
//
//	[stream]
//	queue_capacity = 256
//	batch_size = 16
//
//	[atlas]
//	page_size = 128
//	pages_x = 32
//	pages_y = 32
//	format = "rgba8unorm"
//
//	[log]
//	level = "info"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/vtstream"
	"github.com/gogpu/vtstream/atlas"
)

// ErrInvalid is returned by Validate and wrapped by Load and Parse.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete configuration.
type Config struct {
	Stream Stream `toml:"stream"`
	Atlas  Atlas  `toml:"atlas"`
	Log    Log    `toml:"log"`
	Sim    Sim    `toml:"sim"`
}

// Stream configures the analyzer and its streaming worker.
type Stream struct {
	QueueCapacity int  `toml:"queue_capacity"`
	BatchSize     int  `toml:"batch_size"`
	StrictFrames  bool `toml:"strict_frames"`
}

// Atlas configures the physical page atlas.
type Atlas struct {
	PageSize int    `toml:"page_size"`
	PagesX   int    `toml:"pages_x"`
	PagesY   int    `toml:"pages_y"`
	Border   int    `toml:"border"`
	Format   string `toml:"format"`
}

// Log configures logging. Level is one of debug, info, warn, error or off.
type Log struct {
	Level string `toml:"level"`
}

// Sim configures the vtsim command.
type Sim struct {
	Frames         int    `toml:"frames"`
	FeedbackWidth  int    `toml:"feedback_width"`
	FeedbackHeight int    `toml:"feedback_height"`
	Textures       int    `toml:"textures"`
	Levels         int    `toml:"levels"`
	Pack           string `toml:"pack"`
	Seed           uint64 `toml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	ac := atlas.DefaultConfig()
	return Config{
		Stream: Stream{
			QueueCapacity: vtstream.MaxQueueLength,
			BatchSize:     vtstream.DefaultBatchSize,
		},
		Atlas: Atlas{
			PageSize: ac.PageSize,
			PagesX:   ac.PagesX,
			PagesY:   ac.PagesY,
			Border:   ac.Border,
			Format:   strings.ToLower(ac.Format.String()),
		},
		Log: Log{Level: "off"},
		Sim: Sim{
			Frames:         120,
			FeedbackWidth:  160,
			FeedbackHeight: 90,
			Textures:       2,
			Levels:         8,
			Seed:           1,
		},
	}
}

// Load reads a TOML file over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes TOML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		var (
			derr *toml.DecodeError
			serr *toml.StrictMissingError
		)
		if errors.As(err, &serr) {
			return Config{}, fmt.Errorf("config: %w:\n%s", err, serr.String())
		}
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Marshal encodes the configuration as TOML.
func (c Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return data, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if c.Stream.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("stream.queue_capacity must be positive, got %d", c.Stream.QueueCapacity))
	}
	if c.Stream.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("stream.batch_size must be positive, got %d", c.Stream.BatchSize))
	}
	if _, err := c.Atlas.Config(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Sim.Frames < 0 || c.Sim.FeedbackWidth <= 0 || c.Sim.FeedbackHeight <= 0 {
		errs = append(errs, fmt.Errorf("sim: frames %d, feedback %dx%d", c.Sim.Frames, c.Sim.FeedbackWidth, c.Sim.FeedbackHeight))
	}
	if c.Sim.Textures <= 0 || c.Sim.Textures >= vtstream.MaxTextureUnits {
		errs = append(errs, fmt.Errorf("sim.textures must be in 1..%d, got %d", vtstream.MaxTextureUnits-1, c.Sim.Textures))
	}
	if c.Sim.Levels <= 0 || c.Sim.Levels > 11 {
		errs = append(errs, fmt.Errorf("sim.levels must be in 1..11, got %d", c.Sim.Levels))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Options maps the stream section onto analyzer options.
func (c Config) Options() []vtstream.Option {
	return []vtstream.Option{
		vtstream.WithQueueCapacity(c.Stream.QueueCapacity),
		vtstream.WithBatchSize(c.Stream.BatchSize),
		vtstream.WithStrictFrames(c.Stream.StrictFrames),
	}
}

// Config converts the section to an atlas configuration.
func (a Atlas) Config() (atlas.Config, error) {
	f, err := atlas.ParseFormat(a.Format)
	if err != nil {
		return atlas.Config{}, fmt.Errorf("atlas.format: %w", err)
	}
	c := atlas.Config{
		PageSize: a.PageSize,
		Border:   a.Border,
		PagesX:   a.PagesX,
		PagesY:   a.PagesY,
		Format:   f,
	}
	if err := c.Validate(); err != nil {
		key := "atlas.page_size/pages_x/pages_y"
		switch {
		case a.PageSize <= 0 || a.Border < 0 || a.Border > a.PageSize:
			key = "atlas.page_size/border"
		case a.PagesX <= 0 || a.PagesY <= 0:
			key = "atlas.pages_x/pages_y"
		}
		return atlas.Config{}, fmt.Errorf("%s: %w", key, err)
	}
	return c, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off":
		return slog.LevelError + 1, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}

// Logger returns a text logger writing to w at the configured level, or
// nil when logging is off.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(l.Level, "off") {
		return nil, nil
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
