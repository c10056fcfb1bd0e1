package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Flags are the command-line overrides of the config file. Only flags that
// were set on the command line override it.
type Flags struct {
	fs *flag.FlagSet

	config    *string
	debug     *bool
	backend   *string
	workers   *int
	cells     *int
	samples   *int
	radius    *float64
	seed      *uint64
	center    *string
	fac       *float64
	maxErr    *float64
	filter    *string
	logLevel  *string
	logFile   *string
	cacheSize *int
}

// RegisterFlags defines the config flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:        fs,
		config:    fs.String("config", "", "Path to config file (.yaml or .toml)"),
		debug:     fs.Bool("debug", false, "Enable debug logging"),
		backend:   fs.String("backend", "", "Projection index: bvh, rtree or linear"),
		workers:   fs.Int("workers", 0, "Query workers (0 means one per CPU)"),
		cells:     fs.Int("cells", 0, "Marching cubes cells along the longest axis"),
		samples:   fs.Int("samples", 0, "Number of sample points"),
		radius:    fs.Float64("radius", 0, "Brush radius in world units"),
		seed:      fs.Uint64("seed", 0, "Sampling seed"),
		center:    fs.String("center", "", "Brush center as x,y,z"),
		fac:       fs.Float64("fac", 0, "Finite-difference step as a fraction of each parameter range"),
		maxErr:    fs.Float64("max-error", 0, "Largest coparam projection error"),
		filter:    fs.String("filter", "", "Jacobian filter: mean or contrast"),
		logLevel:  fs.String("log-level", "", "Log level: debug, info, warn or error"),
		logFile:   fs.String("log-file", "", "Also log to this file, rotated"),
		cacheSize: fs.Int("cache", 0, "Number of cached projection indices"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	return *f.config
}

// apply applies the flags that were set to cfg.
func (f *Flags) apply(cfg *Config) error {
	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "debug":
			if *f.debug {
				cfg.Logging.Level = "debug"
			}
		case "backend":
			cfg.Accel.Backend = *f.backend
		case "workers":
			cfg.Accel.Workers = *f.workers
		case "cache":
			cfg.Accel.CacheSize = *f.cacheSize
		case "cells":
			cfg.Shape.MeshCells = *f.cells
		case "samples":
			cfg.Sampling.Count = *f.samples
		case "radius":
			cfg.Sampling.Radius = *f.radius
		case "seed":
			cfg.Sampling.Seed = *f.seed
		case "center":
			var c []float64
			if c, err = parseVec(*f.center); err != nil {
				err = fmt.Errorf("-center: %w", err)
				return
			}
			cfg.Sampling.Center = c
		case "fac":
			cfg.Jacobian.DeltaFactor = *f.fac
		case "max-error":
			cfg.Jacobian.MaxProjectionError = *f.maxErr
		case "filter":
			cfg.Jacobian.Filter = *f.filter
		case "log-level":
			cfg.Logging.Level = *f.logLevel
		case "log-file":
			cfg.Logging.LogFile = *f.logFile
		}
	})
	return err
}

// Values collects repeated name=value flags, such as hyperparameter
// overrides.
type Values map[string]float64

func (v Values) String() string {
	return fmt.Sprint(map[string]float64(v))
}

func (v Values) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	v[name] = x
	return nil
}
