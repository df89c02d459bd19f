// Package config loads and validates the YAML document that describes
// sources, repositories, and the global/per-source backup policy knobs.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackupMode selects whole-file copies or block-level deltas for
// incremental snapshots.
type BackupMode string

const (
	ModeDelta BackupMode = "delta"
	ModeCopy  BackupMode = "copy"
)

// Source describes one directory to back up and its repository targets.
type Source struct {
	SourceDir  string   `yaml:"source_dir"`
	BackupDirs []string `yaml:"backup_dirs,omitempty"`
	Enabled    bool     `yaml:"enabled"`

	// Per-source overrides; zero values mean "inherit the global setting".
	ExcludePatterns          []string   `yaml:"exclude_patterns,omitempty"`
	MaxBackups               int        `yaml:"max_backups,omitempty"`
	BackupMode               BackupMode `yaml:"backup_mode,omitempty"`
	CronSchedule             string     `yaml:"cron_schedule,omitempty"`
	EnablePeriodic           *bool      `yaml:"enable_periodic,omitempty"`
	EnableEventDriven        *bool      `yaml:"enable_event_driven,omitempty"`
	EnableMinIntervalBySize  *bool      `yaml:"enable_min_interval_by_size,omitempty"`
}

// Config is the full document loaded from the YAML configuration file.
type Config struct {
	MaxBackups              int        `yaml:"max_backups"`
	BackupMode               BackupMode `yaml:"backup_mode"`
	CronSchedule             string     `yaml:"cron_schedule"`
	EnablePeriodic           bool       `yaml:"enable_periodic"`
	EnableEventDriven        bool       `yaml:"enable_event_driven"`
	EnableMinIntervalBySize  bool       `yaml:"enable_min_interval_by_size"`
	ExcludePatterns          []string   `yaml:"exclude_patterns,omitempty"`
	Sources                  []Source   `yaml:"sources"`
}

// Resolved is a Source with every override already resolved against the
// global config, ready for the job runner / scheduler / watcher to consume.
type Resolved struct {
	SourceDir               string
	BackupDirs               []string
	ExcludePatterns          []string
	MaxBackups               int
	BackupMode               BackupMode
	CronSchedule             string
	EnablePeriodic           bool
	EnableEventDriven        bool
	EnableMinIntervalBySize  bool
}

// DefaultBackupDir returns the default repository path for a source when
// BackupDirs is empty.
func DefaultBackupDir(sourceDir string) string {
	return sourceDir + string(os.PathSeparator) + ".backup"
}

// Default returns a Config with sensible defaults, mirroring what `init`
// writes out for a new deployment.
func Default() *Config {
	return &Config{
		MaxBackups:              10,
		BackupMode:              ModeDelta,
		CronSchedule:            "0 0 * * * *",
		EnablePeriodic:          true,
		EnableEventDriven:       true,
		EnableMinIntervalBySize: true,
		ExcludePatterns:         []string{"*.tmp", "*.log", ".git", ".DS_Store"},
	}
}

// Load reads and parses the YAML document at path, applies a .env/.env.local
// overlay (non-fatal if absent), fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env", ".env.local"); err != nil {
		// Absence of a .env file is expected in most deployments; only a
		// malformed file that exists is worth surfacing, and godotenv.Load
		// already folds both cases into one error, so we just proceed.
		_ = err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxBackups == 0 {
		c.MaxBackups = 10
	}
	if c.BackupMode == "" {
		c.BackupMode = ModeDelta
	}
	if c.CronSchedule == "" {
		c.CronSchedule = "0 0 * * * *"
	}
	for i := range c.Sources {
		if len(c.Sources[i].BackupDirs) == 0 {
			c.Sources[i].BackupDirs = []string{DefaultBackupDir(c.Sources[i].SourceDir)}
		}
	}
}

// Resolve returns the fully-resolved configuration for a single source,
// applying the resolution rule from SPEC_FULL.md §4.8: source-level
// override shadows global, per field.
func (c *Config) Resolve(s Source) Resolved {
	r := Resolved{
		SourceDir:               s.SourceDir,
		BackupDirs:               s.BackupDirs,
		ExcludePatterns:          c.ExcludePatterns,
		MaxBackups:               c.MaxBackups,
		BackupMode:               c.BackupMode,
		CronSchedule:             c.CronSchedule,
		EnablePeriodic:           c.EnablePeriodic,
		EnableEventDriven:        c.EnableEventDriven,
		EnableMinIntervalBySize:  c.EnableMinIntervalBySize,
	}
	if len(s.ExcludePatterns) > 0 {
		r.ExcludePatterns = s.ExcludePatterns
	}
	if s.MaxBackups > 0 {
		r.MaxBackups = s.MaxBackups
	}
	if s.BackupMode != "" {
		r.BackupMode = s.BackupMode
	}
	if s.CronSchedule != "" {
		r.CronSchedule = s.CronSchedule
	}
	if s.EnablePeriodic != nil {
		r.EnablePeriodic = *s.EnablePeriodic
	}
	if s.EnableEventDriven != nil {
		r.EnableEventDriven = *s.EnableEventDriven
	}
	if s.EnableMinIntervalBySize != nil {
		r.EnableMinIntervalBySize = *s.EnableMinIntervalBySize
	}
	return r
}

// Fingerprint returns a SHA-256 over the canonical YAML re-encoding of c,
// used by the daemon's hot-reload path to memoize failed validations and
// detect a no-op reload.
func (c *Config) Fingerprint() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("fingerprint config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
