// Package config loads the gateway's own tuning surface: serial port
// settings, logging, and the pacing/scheduler knobs from spec section 6.
// It does not load the BBS application's configuration (sysop name,
// argon2 parameters, storage paths, ...) — that remains the embedding
// application's concern, out of scope here per spec.md section 1.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's startup configuration, loaded from YAML.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Log     LogConfig     `yaml:"log"`
	Pacing  PacingConfig  `yaml:"pacing"`
	Onboard OnboardConfig `yaml:"onboard"`
}

// SerialConfig describes the radio's serial link.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// PacingConfig is the table from spec.md section 6: pacing gates, retry
// schedule, and scheduler tuning.
type PacingConfig struct {
	MinSendGapMS             int   `yaml:"min_send_gap_ms"`
	DMResendBackoffSeconds   []int `yaml:"dm_resend_backoff_seconds"`
	PostDMBroadcastGapMS     int   `yaml:"post_dm_broadcast_gap_ms"`
	DMToDMGapMS              int   `yaml:"dm_to_dm_gap_ms"`
	HelpBroadcastDelayMS     int   `yaml:"help_broadcast_delay_ms"`
	SchedulerMaxQueue        int   `yaml:"scheduler_max_queue"`
	SchedulerAgingThreshMS   int   `yaml:"scheduler_aging_threshold_ms"`
	SchedulerStatsIntervalMS int   `yaml:"scheduler_stats_interval_ms"`
}

// OnboardConfig controls the welcome/onboarding state machine of
// section 4.5: eligibility, the ping-gated send sequence, and the
// startup scan.
type OnboardConfig struct {
	MaxWelcomesPerNode       int `yaml:"max_welcomes_per_node"`
	CooldownMinutes          int `yaml:"cooldown_minutes"`
	PingTimeoutSeconds       int `yaml:"ping_timeout_seconds"`
	GuideChunkBytes          int `yaml:"guide_chunk_bytes"`
	GuideChunkSpacingSeconds int `yaml:"guide_chunk_spacing_seconds"`
	GreetingDelaySeconds     int `yaml:"greeting_delay_seconds"`
	StartupScanWindowMinutes int `yaml:"startup_scan_window_minutes"`
	StartupStaggerSeconds    int `yaml:"startup_stagger_seconds"`
}

const (
	minSendGapFloorMS        = 2000
	defaultPostDMBroadcastMS = 1200
	defaultDMToDMGapMS       = 600
	defaultHelpBroadcastMS   = 3500
	defaultSchedulerMaxQueue = 512
	defaultAgingThresholdMS  = 5000
	defaultStatsIntervalMS   = 10000
	defaultBaud              = 115200

	defaultMaxWelcomesPerNode       = 1
	defaultCooldownMinutes          = 10
	defaultPingTimeoutSeconds       = 120
	defaultGuideChunkBytes          = 200
	defaultGuideChunkSpacingSeconds = 5
	defaultGreetingDelaySeconds     = 11
	defaultStartupScanWindowMinutes = 60
	defaultStartupStaggerSeconds    = 30
)

var defaultBackoffSeconds = []int{4, 8, 16}

// Default returns the configuration spec.md section 6 describes when no
// file overrides a setting.
func Default() Config {
	return Config{
		Serial: SerialConfig{Device: "/dev/ttyUSB0", Baud: defaultBaud},
		Log:    LogConfig{Level: "info"},
		Pacing: PacingConfig{
			MinSendGapMS:             minSendGapFloorMS,
			DMResendBackoffSeconds:   append([]int(nil), defaultBackoffSeconds...),
			PostDMBroadcastGapMS:     defaultPostDMBroadcastMS,
			DMToDMGapMS:              defaultDMToDMGapMS,
			HelpBroadcastDelayMS:     defaultHelpBroadcastMS,
			SchedulerMaxQueue:        defaultSchedulerMaxQueue,
			SchedulerAgingThreshMS:   defaultAgingThresholdMS,
			SchedulerStatsIntervalMS: defaultStatsIntervalMS,
		},
		Onboard: OnboardConfig{
			MaxWelcomesPerNode:       defaultMaxWelcomesPerNode,
			CooldownMinutes:          defaultCooldownMinutes,
			PingTimeoutSeconds:       defaultPingTimeoutSeconds,
			GuideChunkBytes:          defaultGuideChunkBytes,
			GuideChunkSpacingSeconds: defaultGuideChunkSpacingSeconds,
			GreetingDelaySeconds:     defaultGreetingDelaySeconds,
			StartupScanWindowMinutes: defaultStartupScanWindowMinutes,
			StartupStaggerSeconds:    defaultStartupStaggerSeconds,
		},
	}
}

// Load reads and parses a YAML configuration file, applying Default() for
// anything the file doesn't set, then Validate()s the result.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Validate()
	return cfg, nil
}

// Validate clamps and repairs the boundary cases spec.md section 8 calls
// out explicitly. It never returns an error: every input has a well
// defined, documented repaired value.
func (c *Config) Validate() {
	if c.Pacing.MinSendGapMS < minSendGapFloorMS {
		c.Pacing.MinSendGapMS = minSendGapFloorMS
	}

	hasPositive := false
	for _, s := range c.Pacing.DMResendBackoffSeconds {
		if s > 0 {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		c.Pacing.DMResendBackoffSeconds = append([]int(nil), defaultBackoffSeconds...)
	} else {
		filtered := c.Pacing.DMResendBackoffSeconds[:0:0]
		for _, s := range c.Pacing.DMResendBackoffSeconds {
			if s > 0 {
				filtered = append(filtered, s)
			}
		}
		c.Pacing.DMResendBackoffSeconds = filtered
	}

	floor := c.Pacing.PostDMBroadcastGapMS + c.Pacing.MinSendGapMS
	if c.Pacing.HelpBroadcastDelayMS < floor {
		c.Pacing.HelpBroadcastDelayMS = floor
	}

	if c.Pacing.SchedulerMaxQueue <= 0 {
		c.Pacing.SchedulerMaxQueue = defaultSchedulerMaxQueue
	}
	if c.Pacing.SchedulerAgingThreshMS <= 0 {
		c.Pacing.SchedulerAgingThreshMS = defaultAgingThresholdMS
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = defaultBaud
	}
}

// MinSendGap returns the configured minimum send gap as a time.Duration.
func (p PacingConfig) MinSendGap() time.Duration {
	return time.Duration(p.MinSendGapMS) * time.Millisecond
}

// DMResendBackoff returns the retry schedule as time.Duration values.
func (p PacingConfig) DMResendBackoff() []time.Duration {
	out := make([]time.Duration, len(p.DMResendBackoffSeconds))
	for i, s := range p.DMResendBackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// PostDMBroadcastGap returns the post-DM broadcast gap as a time.Duration.
func (p PacingConfig) PostDMBroadcastGap() time.Duration {
	return time.Duration(p.PostDMBroadcastGapMS) * time.Millisecond
}

// DMToDMGap returns the DM-to-DM gap as a time.Duration.
func (p PacingConfig) DMToDMGap() time.Duration {
	return time.Duration(p.DMToDMGapMS) * time.Millisecond
}

// SchedulerAgingThreshold returns the aging threshold as a time.Duration.
func (p PacingConfig) SchedulerAgingThreshold() time.Duration {
	return time.Duration(p.SchedulerAgingThreshMS) * time.Millisecond
}

// SchedulerStatsInterval returns the stats log cadence, or 0 if disabled.
func (p PacingConfig) SchedulerStatsInterval() time.Duration {
	return time.Duration(p.SchedulerStatsIntervalMS) * time.Millisecond
}
