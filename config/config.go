// Package config loads the tool configuration. Everything has a working
// default; a TOML file only overrides.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ScanRange is one discovery scan window. The step and response-offset
// constants are empirical per platform family; they are configuration, not
// derived values.
type ScanRange struct {
	Start     uint32 `toml:"start"`
	End       uint32 `toml:"end"`
	Step      uint32 `toml:"step"`
	RspOffset uint32 `toml:"rsp_offset"`
}

type MailboxConfig struct {
	PollRetries    int `toml:"poll_retries"`
	PollIntervalUs int `toml:"poll_interval_us"`
}

type MonitorConfig struct {
	IntervalMs int `toml:"interval_ms"`
	PageSize   int `toml:"page_size"`
}

type ToolConfig struct {
	Debug     bool          `toml:"debug"`
	DriverDir string        `toml:"driver_dir"`
	Mailbox   MailboxConfig `toml:"mailbox"`
	Monitor   MonitorConfig `toml:"monitor"`

	// ScanRanges overrides the built-in per-family discovery windows,
	// keyed by family name ("zen3-desktop", ...) or "generic".
	ScanRanges map[string][]ScanRange `toml:"scan_ranges"`
}

func Default() ToolConfig {
	return ToolConfig{
		Mailbox: MailboxConfig{
			PollRetries:    8192,
			PollIntervalUs: 100,
		},
		Monitor: MonitorConfig{
			IntervalMs: 2000,
			PageSize:   50,
		},
		ScanRanges: map[string][]ScanRange{},
	}
}

// Load reads a TOML config from path. An empty path returns the defaults.
func Load(path string) (ToolConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *ToolConfig) Validate() error {
	if cfg.Mailbox.PollRetries <= 0 {
		return fmt.Errorf("mailbox.poll_retries must be positive")
	}
	if cfg.Mailbox.PollIntervalUs <= 0 {
		return fmt.Errorf("mailbox.poll_interval_us must be positive")
	}
	if cfg.Monitor.IntervalMs < 100 {
		cfg.Monitor.IntervalMs = 100
	}
	if cfg.Monitor.PageSize <= 0 {
		cfg.Monitor.PageSize = 50
	}
	for family, ranges := range cfg.ScanRanges {
		for _, r := range ranges {
			if r.End <= r.Start {
				return fmt.Errorf("scan range for %q: end 0x%08X not above start 0x%08X", family, r.End, r.Start)
			}
			if r.Step == 0 || r.Step%4 != 0 {
				return fmt.Errorf("scan range for %q: step %d must be a positive multiple of 4", family, r.Step)
			}
		}
	}
	return nil
}
