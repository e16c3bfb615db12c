// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the YAML configuration shared by the command line and the server.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mlnoga/arrnorm/internal/imad"
	"github.com/mlnoga/arrnorm/internal/radcal"
	"github.com/mlnoga/arrnorm/internal/raster"
)

// Config represents the complete configuration file
type Config struct {
	MaxIters      int          `yaml:"max_iters"`      // IR-MAD iterations, all of which are run
	ProbThres     float64      `yaml:"prob_thres"`     // no-change probability threshold for radcal
	Backend       string       `yaml:"backend"`        // raster backend name
	MemoryMB      int64        `yaml:"memory_mb"`      // budget of the mem backend, 0 for half the physical memory
	GDALDriver    string       `yaml:"gdal_driver"`    // output driver of the gdal backend
	BandPositions []int        `yaml:"band_positions"` // 1-based, empty for all bands
	Window        *imad.Window `yaml:"window"`         // spatial subset, nil for the full raster
	KeepMAD       bool         `yaml:"keep_mad"`       // keep the MAD raster after radcal
	FullScene     bool         `yaml:"full_scene"`     // also calibrate the full target scene
	Preview       bool         `yaml:"preview"`        // write TIFF previews next to the outputs
	Log           LogConfig    `yaml:"log"`
	Server        ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	Chroot string `yaml:"chroot"`
	Setuid int    `yaml:"setuid"` // -1 keeps the current user
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		MaxIters:  imad.DefaultMaxIters,
		ProbThres: radcal.DefaultThreshold,
		Backend:   "fits",
		Log:       LogConfig{Level: "info"},
		Server:    ServerConfig{Listen: ":8080", Setuid: -1},
	}
}

// Load reads a YAML file on top of the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.MaxIters <= 0 {
		return fmt.Errorf("max_iters must be positive, got %d", c.MaxIters)
	}
	if c.ProbThres < 0 || c.ProbThres >= 1 {
		return fmt.Errorf("prob_thres must be in [0,1), got %g", c.ProbThres)
	}
	known := false
	for _, n := range raster.BackendNames() {
		if n == c.Backend {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown backend %q, have %v", c.Backend, raster.BackendNames())
	}
	if c.MemoryMB < 0 {
		return fmt.Errorf("memory_mb must not be negative, got %d", c.MemoryMB)
	}
	seen := map[int]bool{}
	for _, p := range c.BandPositions {
		if p < 1 {
			return fmt.Errorf("band_positions are 1-based, got %d", p)
		}
		if seen[p] {
			return fmt.Errorf("band position %d given twice", p)
		}
		seen[p] = true
	}
	if w := c.Window; w != nil {
		if w.X0 < 0 || w.Y0 < 0 || w.Cols <= 0 || w.Rows <= 0 {
			return fmt.Errorf("window %s must have a non-negative origin and positive size", w)
		}
	}
	if c.Server.Setuid < -1 {
		return fmt.Errorf("server setuid must be -1 or a user id, got %d", c.Server.Setuid)
	}
	return nil
}

// Backend options derived from the configuration
func (c *Config) BackendOptions(log zerolog.Logger) raster.Options {
	return raster.Options{Log: log, MemoryMB: c.MemoryMB, GDALDriver: c.GDALDriver}
}
