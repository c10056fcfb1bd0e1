// Package config handles harness configuration loading and management.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/amend/pkg/accel"
	"github.com/chazu/amend/pkg/jacobian"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"go.uber.org/zap/zapcore"
)

// Config holds all harness settings.
type Config struct {
	Accel    AccelConfig    `yaml:"accel" toml:"accel"`
	Shape    ShapeConfig    `yaml:"shape" toml:"shape"`
	Sampling SamplingConfig `yaml:"sampling" toml:"sampling"`
	Jacobian JacobianConfig `yaml:"jacobian" toml:"jacobian"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// AccelConfig holds projection index settings.
type AccelConfig struct {
	Backend   string `yaml:"backend" toml:"backend"` // bvh, rtree or linear
	LeafSize  int    `yaml:"leaf_size" toml:"leaf_size"`
	Workers   int    `yaml:"workers" toml:"workers"` // 0 means one per CPU
	CacheSize int    `yaml:"cache_size" toml:"cache_size"`
}

// ShapeConfig holds shape evaluation settings.
type ShapeConfig struct {
	MeshCells int `yaml:"mesh_cells" toml:"mesh_cells"`
}

// SamplingConfig holds surface sampling settings.
type SamplingConfig struct {
	Count  int       `yaml:"count" toml:"count"`
	Radius float64   `yaml:"radius" toml:"radius"`
	Seed   uint64    `yaml:"seed" toml:"seed"`
	Center []float64 `yaml:"center" toml:"center"`
}

// JacobianConfig holds finite-difference and filter settings.
type JacobianConfig struct {
	DeltaFactor        float64 `yaml:"delta_factor" toml:"delta_factor"`
	MaxProjectionError float64 `yaml:"max_projection_error" toml:"max_projection_error"`
	Filter             string  `yaml:"filter" toml:"filter"` // mean or contrast
	RadiusFactor       float64 `yaml:"radius_factor" toml:"radius_factor"`
	ContrastThreshold  float64 `yaml:"contrast_threshold" toml:"contrast_threshold"`
	VariationThreshold float64 `yaml:"variation_threshold" toml:"variation_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level" toml:"level"`
	LogFile string `yaml:"log_file" toml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Accel: AccelConfig{
			Backend:   accel.BackendBVH.String(),
			LeafSize:  accel.DefaultLeafSize,
			CacheSize: accel.DefaultCacheSize,
		},
		Shape: ShapeConfig{
			MeshCells: 100,
		},
		Sampling: SamplingConfig{
			Count:  32,
			Radius: 1,
			Seed:   1,
			Center: []float64{0, 0, 0},
		},
		Jacobian: JacobianConfig{
			DeltaFactor:        1e-5,
			MaxProjectionError: 1e-7,
			Filter:             jacobian.FilterContrast.String(),
			RadiusFactor:       jacobian.DefaultRadiusFactor,
			ContrastThreshold:  jacobian.DefaultContrastThreshold,
			VariationThreshold: jacobian.DefaultVariationThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := accel.ParseBackend(c.Accel.Backend); err != nil {
		return fmt.Errorf("accel.backend: %w", err)
	}
	if c.Accel.LeafSize < 1 {
		return fmt.Errorf("accel.leaf_size: %d, must be at least 1", c.Accel.LeafSize)
	}
	if c.Accel.Workers < 0 {
		return fmt.Errorf("accel.workers: %d, must not be negative", c.Accel.Workers)
	}
	if c.Accel.CacheSize < 1 {
		return fmt.Errorf("accel.cache_size: %d, must be at least 1", c.Accel.CacheSize)
	}
	if c.Shape.MeshCells < 8 {
		return fmt.Errorf("shape.mesh_cells: %d, must be at least 8", c.Shape.MeshCells)
	}
	if c.Sampling.Count < 1 {
		return fmt.Errorf("sampling.count: %d, must be at least 1", c.Sampling.Count)
	}
	if !positive(c.Sampling.Radius) {
		return fmt.Errorf("sampling.radius: %g, must be positive", c.Sampling.Radius)
	}
	if _, err := c.Center(); err != nil {
		return err
	}
	if !positive(c.Jacobian.DeltaFactor) || c.Jacobian.DeltaFactor >= 1 {
		return fmt.Errorf("jacobian.delta_factor: %g, must be in (0, 1)", c.Jacobian.DeltaFactor)
	}
	if !positive(c.Jacobian.MaxProjectionError) {
		return fmt.Errorf("jacobian.max_projection_error: %g, must be positive", c.Jacobian.MaxProjectionError)
	}
	if _, err := jacobian.ParseFilter(c.Jacobian.Filter); err != nil {
		return fmt.Errorf("jacobian.filter: %w", err)
	}
	if c.Jacobian.RadiusFactor < 1 {
		return fmt.Errorf("jacobian.radius_factor: %g, must be at least 1", c.Jacobian.RadiusFactor)
	}
	if c.Jacobian.ContrastThreshold < 0 || c.Jacobian.ContrastThreshold > 1 {
		return fmt.Errorf("jacobian.contrast_threshold: %g, must be in [0, 1]", c.Jacobian.ContrastThreshold)
	}
	if c.Jacobian.VariationThreshold < 1 {
		return fmt.Errorf("jacobian.variation_threshold: %g, must be at least 1", c.Jacobian.VariationThreshold)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Center returns the sampling center as a vector.
func (c *Config) Center() (v3.Vec, error) {
	p := c.Sampling.Center
	if len(p) != 3 {
		return v3.Vec{}, fmt.Errorf("sampling.center: %d coordinates, expected 3", len(p))
	}
	for _, x := range p {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v3.Vec{}, fmt.Errorf("sampling.center: %v is not finite", p)
		}
	}
	return v3.Vec{X: p[0], Y: p[1], Z: p[2]}, nil
}

// Backend returns the parsed accel backend.
func (c *Config) Backend() accel.Backend {
	b, _ := accel.ParseBackend(c.Accel.Backend)
	return b
}

// Filter builds the configured jacobian filter.
func (c *Config) Filter() jacobian.Filter {
	kind, _ := jacobian.ParseFilter(c.Jacobian.Filter)
	if kind != jacobian.FilterContrast {
		return jacobian.NewFilter(kind)
	}
	return &jacobian.ContrastFilter{
		RadiusFactor:       c.Jacobian.RadiusFactor,
		ContrastThreshold:  c.Jacobian.ContrastThreshold,
		VariationThreshold: c.Jacobian.VariationThreshold,
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// parseVec parses "x,y,z".
func parseVec(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected x,y,z, got %q", s)
	}
	out := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d of %q: %w", i, s, err)
		}
		out[i] = v
	}
	return out, nil
}
