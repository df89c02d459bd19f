package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-co-op/gocron/v2"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
)

// configValidator collects every violation in one pass rather than failing
// on the first, mirroring how a misconfigured deployment usually needs to
// fix several things before it will run at all.
type configValidator struct {
	cfg  *Config
	errs []string
}

// Validate checks c for the conditions that constitute backuperr.ConfigInvalid:
// non-absolute paths, duplicate repository paths, a source used as its own
// repository, a missing or non-directory source, max_backups <= 0, and an
// unparseable cron expression. All violations are collected before returning.
func (c *Config) Validate() error {
	v := &configValidator{cfg: c}
	v.validateGlobal()
	v.validateSources()
	if len(v.errs) == 0 {
		return nil
	}
	msg := v.errs[0]
	if len(v.errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(v.errs)-1)
	}
	err := backuperr.New(backuperr.ConfigInvalid, msg)
	for i, e := range v.errs {
		err = err.WithContext(fmt.Sprintf("violation_%d", i), e)
	}
	return err
}

func (v *configValidator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *configValidator) validateGlobal() {
	if v.cfg.MaxBackups <= 0 {
		v.fail("max_backups must be positive, got %d", v.cfg.MaxBackups)
	}
	if v.cfg.BackupMode != ModeDelta && v.cfg.BackupMode != ModeCopy {
		v.fail("backup_mode must be %q or %q, got %q", ModeDelta, ModeCopy, v.cfg.BackupMode)
	}
	v.validateCron(v.cfg.CronSchedule, "cron_schedule")
}

func (v *configValidator) validateCron(expr, field string) {
	if expr == "" {
		return
	}
	if !isValidCron(expr) {
		v.fail("%s is not a valid cron expression: %q", field, expr)
	}
}

func (v *configValidator) validateSources() {
	if len(v.cfg.Sources) == 0 {
		v.fail("at least one source must be configured")
		return
	}

	seenRepos := make(map[string]bool)
	for i, s := range v.cfg.Sources {
		label := s.SourceDir
		if label == "" {
			label = fmt.Sprintf("sources[%d]", i)
		}

		if !filepath.IsAbs(s.SourceDir) {
			v.fail("source %s: source_dir must be an absolute path", label)
		}
		info, err := os.Stat(s.SourceDir)
		if err != nil {
			v.fail("source %s: source_dir does not exist or is not accessible: %v", label, err)
		} else if !info.IsDir() {
			v.fail("source %s: source_dir is not a directory", label)
		}

		if len(s.BackupDirs) == 0 {
			v.fail("source %s: at least one backup_dir is required", label)
		}
		for _, repo := range s.BackupDirs {
			if !filepath.IsAbs(repo) {
				v.fail("source %s: backup_dir %q must be an absolute path", label, repo)
			}
			if repo == s.SourceDir {
				v.fail("source %s: backup_dir %q must differ from source_dir", label, repo)
			}
			clean := filepath.Clean(repo)
			if seenRepos[clean] {
				v.fail("backup_dir %q is used by more than one source", repo)
			}
			seenRepos[clean] = true
		}

		if s.MaxBackups < 0 {
			v.fail("source %s: max_backups override must not be negative", label)
		}
		if s.BackupMode != "" && s.BackupMode != ModeDelta && s.BackupMode != ModeCopy {
			v.fail("source %s: backup_mode override must be %q or %q, got %q", label, ModeDelta, ModeCopy, s.BackupMode)
		}
		v.validateCron(s.CronSchedule, fmt.Sprintf("source %s: cron_schedule", label))
	}
}

// isValidCron reports whether expr parses as a 6-field (seconds-enabled)
// gocron cron expression.
func isValidCron(expr string) bool {
	s, err := gocron.NewScheduler()
	if err != nil {
		return false
	}
	defer s.Shutdown()

	_, err = s.NewJob(
		gocron.CronJob(expr, true),
		gocron.NewTask(func() {}),
	)
	return err == nil
}
