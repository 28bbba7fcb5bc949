// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk shape of a statically configured Scheduler/Host
// pair, for deployments that prefer a config file over call-site functional
// options. LoadConfigFile parses one; SchedulerOptions and HostOptions
// convert it into the same
// SchedulerOption/HostOption slices code-based configuration produces, so
// both paths funnel through identical validation.
type FileConfig struct {
	MaxNice                   *int    `toml:"max_nice"`
	MainSwitchLimit           *uint64 `toml:"main_switch_limit"`
	AlternateSwitchHeuristic  bool    `toml:"alternate_switch_heuristic"`
	LogLevel                  string  `toml:"log_level"`
	MetricsEnabled            bool    `toml:"metrics_enabled"`
	PollBatchSize             int     `toml:"poll_batch_size"`
	ShutdownTimeoutMillis     int64   `toml:"shutdown_timeout_millis"`
}

// LoadConfigFile parses a TOML document at path into a FileConfig. Unknown
// keys are rejected, since a typo in a deployed config file silently doing
// nothing is worse than a load-time error.
func LoadConfigFile(path string) (*FileConfig, error) {
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("fibersched: parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fibersched: config %s: unknown keys %v", path, undecoded)
	}
	if cfg.MaxNice != nil && *cfg.MaxNice < 0 {
		return nil, fmt.Errorf("fibersched: config %s: max_nice must be >= 0", path)
	}
	return &cfg, nil
}

// SchedulerOptions converts the scheduler-relevant fields into a
// SchedulerOption slice.
func (c *FileConfig) SchedulerOptions() []SchedulerOption {
	var opts []SchedulerOption
	if c.MaxNice != nil {
		opts = append(opts, WithMaxNice(*c.MaxNice))
	}
	if c.MainSwitchLimit != nil {
		opts = append(opts, WithMainSwitchLimit(*c.MainSwitchLimit))
	}
	if c.AlternateSwitchHeuristic {
		opts = append(opts, WithAlternateSwitchHeuristic(true))
	}
	return opts
}

// HostOptions converts the host/reactor-relevant fields into a HostOption
// slice. metrics is supplied by the caller rather than constructed here,
// since a *Metrics is a live collector with its own lifetime, not a value a
// config file can describe.
func (c *FileConfig) HostOptions(metrics *Metrics) []HostOption {
	var opts []HostOption
	if c.LogLevel != "" {
		if lvl, ok := parseLogLevel(c.LogLevel); ok {
			opts = append(opts, WithLogger(NewDefaultLogger(lvl)))
		}
	}
	if c.MetricsEnabled && metrics != nil {
		opts = append(opts, WithHostMetrics(metrics))
	}
	if c.PollBatchSize > 0 {
		opts = append(opts, WithPollBatchSize(c.PollBatchSize))
	}
	if c.ShutdownTimeoutMillis > 0 {
		opts = append(opts, WithShutdownTimeout(time.Duration(c.ShutdownTimeoutMillis)*time.Millisecond))
	}
	return opts
}

func parseLogLevel(s string) (LogLevel, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return 0, false
	}
}
