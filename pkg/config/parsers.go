package config

import (
	"errors"
	"flag"
	"os"

	"objpool/pkg/recycler"
)

// Flags holds parsed command-line flag values and which were explicitly set.
type Flags struct {
	ConfigPath string
	Set        map[string]bool
}

// ParseConfigFlags parses command-line flags for the recycler daemon.
func ParseConfigFlags() Flags {
	cfgPtr := flag.String("config", "./recycler.yaml", "Path to recycler config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{ConfigPath: *cfgPtr, Set: set}
}

// ParseConfigFile resolves the config path and loads the YAML file, if
// present. A missing file is not an error: every field has a recycler
// default. Any other read or parse error is returned.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := ResolveConfigPath(flags.ConfigPath, flags.Set["config"])
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// LoadEffectiveConfig merges file config, then environment overrides, into
// one Config (env wins over file; an explicit flag-set config path only
// selects which file to read, not a value in its own right).
func LoadEffectiveConfig(flags Flags) (*Config, error) {
	cfg, _, err := ParseConfigFile(flags)
	if err != nil {
		return nil, err
	}
	envOverrides(cfg)
	return cfg, nil
}

// ToOptions translates a Config into recycler.Option values, skipping zero
// fields so recycler.New's own defaults apply where the operator left a knob
// unset (spec.md §6's configuration table values are recycler.New's
// defaults, not this package's).
func (c *Config) ToOptions() []recycler.Option {
	var opts []recycler.Option
	r := c.Recycler
	if r.MaxCapacityPerThread != 0 {
		opts = append(opts, recycler.WithMaxCapacityPerThread(r.MaxCapacityPerThread))
	}
	if r.MaxSharedCapacityFactor != 0 {
		opts = append(opts, recycler.WithMaxSharedCapacityFactor(r.MaxSharedCapacityFactor))
	}
	if r.MaxDelayedQueuesPerThread != 0 {
		opts = append(opts, recycler.WithMaxDelayedQueuesPerThread(r.MaxDelayedQueuesPerThread))
	}
	if r.LinkCapacity != 0 {
		opts = append(opts, recycler.WithLinkCapacity(r.LinkCapacity))
	}
	if r.Ratio != 0 {
		opts = append(opts, recycler.WithRatio(r.Ratio))
	}
	if r.DelayedQueueRatio != 0 {
		opts = append(opts, recycler.WithDelayedQueueRatio(r.DelayedQueueRatio))
	}
	if r.AdmissionBurstRPS > 0 {
		opts = append(opts, recycler.WithAdmissionBurst(r.AdmissionBurstRPS, r.AdmissionBurstBurst))
	}
	if r.PoolName != "" {
		opts = append(opts, recycler.WithPoolName(r.PoolName))
	}
	return opts
}
