// Package config layers recycler tuning knobs from an optional YAML file and
// RECYCLER_* environment overrides (the environment wins over the file). The
// only command-line flag, -config, selects which file is read; it sets no
// tuning value itself. The layering shape — ParseConfigFlags /
// ParseConfigFile / LoadEffectiveConfig — mirrors the host application's own
// configuration package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk/env-facing mirror of recycler.Config (SPEC_FULL §6).
// It is translated into recycler.Option values by ToOptions.
type Config struct {
	Recycler struct {
		MaxCapacityPerThread      int    `yaml:"max_capacity_per_thread"`
		MaxSharedCapacityFactor   int    `yaml:"max_shared_capacity_factor"`
		MaxDelayedQueuesPerThread int    `yaml:"max_delayed_queues_per_thread"`
		LinkCapacity              int    `yaml:"link_capacity"`
		Ratio                     int    `yaml:"ratio"`
		DelayedQueueRatio         int    `yaml:"delayed_queue_ratio"`
		AdmissionBurstRPS         float64 `yaml:"admission_burst_rps"`
		AdmissionBurstBurst       int    `yaml:"admission_burst_burst"`
		// PoolName opts this recycler into the labeled Prometheus series
		// (recycler_get_total, recycler_recycle_total, ..., SPEC_FULL §4.5);
		// empty leaves them disabled.
		PoolName string `yaml:"pool_name"`
		// MaxMemoryHint is an informational byte-size budget (e.g. "64MiB")
		// for sanity-checking MaxCapacityPerThread * goroutine-count against
		// available memory. It is parsed but not logged or otherwise read by
		// the daemon, and it does not itself bound anything.
		MaxMemoryHint SizeBytes `yaml:"max_memory_hint"`
	} `yaml:"recycler"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath mirrors the host application's precedence: an explicitly
// set flag always wins, otherwise fall back to the conventional default path.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet && flagPath != "" {
		return flagPath
	}
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err == nil {
			return flagPath
		}
	}
	return "./recycler.yaml"
}

// envOverrides walks the RECYCLER_* environment variables onto cfg in place,
// returning which keys were actually found.
func envOverrides(cfg *Config) map[string]bool {
	used := map[string]bool{}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
				used[key] = true
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = n
				used[key] = true
			}
		}
	}
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
			used[key] = true
		}
	}
	setSize := func(key string, dst *SizeBytes) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := humanize.ParseBytes(strings.TrimSpace(v)); err == nil {
				*dst = SizeBytes(n)
				used[key] = true
			}
		}
	}

	setInt("RECYCLER_MAX_CAPACITY_PER_THREAD", &cfg.Recycler.MaxCapacityPerThread)
	setInt("RECYCLER_MAX_SHARED_CAPACITY_FACTOR", &cfg.Recycler.MaxSharedCapacityFactor)
	setInt("RECYCLER_MAX_DELAYED_QUEUES_PER_THREAD", &cfg.Recycler.MaxDelayedQueuesPerThread)
	setInt("RECYCLER_LINK_CAPACITY", &cfg.Recycler.LinkCapacity)
	setInt("RECYCLER_RATIO", &cfg.Recycler.Ratio)
	setInt("RECYCLER_DELAYED_QUEUE_RATIO", &cfg.Recycler.DelayedQueueRatio)
	setFloat("RECYCLER_ADMISSION_BURST_RPS", &cfg.Recycler.AdmissionBurstRPS)
	setInt("RECYCLER_ADMISSION_BURST_BURST", &cfg.Recycler.AdmissionBurstBurst)
	setSize("RECYCLER_MAX_MEMORY_HINT", &cfg.Recycler.MaxMemoryHint)
	setStr("RECYCLER_POOL_NAME", &cfg.Recycler.PoolName)
	setStr("RECYCLER_LOG_LEVEL", &cfg.Logging.Level)

	return used
}
