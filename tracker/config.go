// Copyright 2026 covguide project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tracker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	. "github.com/covguide/covguide/covguide-defs"
)

// Config is fixed for the lifetime of a Tracker.
type Config struct {
	ObjectFilename string `yaml:"object"`
	OutputDir      string `yaml:"output_dir"`

	Statistics bool `yaml:"statistics"`
	IStats     bool `yaml:"istats"`
	CallPaths  bool `yaml:"call_paths"`

	// Distance to uncovered code is the most expensive feature.
	UpdateMinDistToUncovered bool `yaml:"update_min_dist_to_uncovered"`

	StatsCommitEvery int           `yaml:"stats_commit_every"` // rows per transaction
	StatsEvery       int           `yaml:"stats_every"`        // steps between stats rows
	StatsInterval    time.Duration `yaml:"stats_interval"`
	IStatsInterval   time.Duration `yaml:"istats_interval"`

	// The distance table is rebuilt after RecomputeEvery steps if coverage
	// grew meanwhile, or as soon as RecomputeNewBlocks blocks are new.
	RecomputeEvery     int `yaml:"recompute_every"`
	RecomputeNewBlocks int `yaml:"recompute_new_blocks"`

	Verbose int `yaml:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		OutputDir:                "covguide-out",
		Statistics:               true,
		IStats:                   true,
		CallPaths:                true,
		UpdateMinDistToUncovered: true,
		StatsCommitEvery:         DefaultStatsCommitEvery,
		StatsEvery:               100000,
		StatsInterval:            time.Second,
		IStatsInterval:           10 * time.Second,
		RecomputeEvery:           10000,
		RecomputeNewBlocks:       16,
	}
}

// LoadConfig reads a YAML file on top of the defaults.
func LoadConfig(file string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(file)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %v: %w", file, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Statistics && cfg.OutputDir == "" {
		return fmt.Errorf("output dir is not set")
	}
	if cfg.StatsCommitEvery < 0 || cfg.StatsEvery < 0 || cfg.RecomputeEvery < 0 || cfg.RecomputeNewBlocks < 0 {
		return fmt.Errorf("negative counter in config")
	}
	return nil
}
