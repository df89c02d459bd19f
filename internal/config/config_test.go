package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "snapguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndResolvesBackupDir(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path := writeYAML(t, dir, `
sources:
  - source_dir: `+srcDir+`
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxBackups != 10 {
		t.Fatalf("expected default max_backups 10, got %d", cfg.MaxBackups)
	}
	if cfg.BackupMode != ModeDelta {
		t.Fatalf("expected default backup_mode delta, got %s", cfg.BackupMode)
	}
	if len(cfg.Sources[0].BackupDirs) != 1 || cfg.Sources[0].BackupDirs[0] != DefaultBackupDir(srcDir) {
		t.Fatalf("expected default backup dir, got %v", cfg.Sources[0].BackupDirs)
	}
}

func TestValidateRejectsRelativeSourceDir(t *testing.T) {
	cfg := Default()
	cfg.Sources = []Source{{SourceDir: "relative/path", BackupDirs: []string{"/tmp/x"}, Enabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for relative source_dir")
	}
}

func TestValidateRejectsMissingSourceDir(t *testing.T) {
	cfg := Default()
	cfg.Sources = []Source{{SourceDir: "/definitely/does/not/exist/snapguard", BackupDirs: []string{"/tmp/x"}, Enabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing source_dir")
	}
}

func TestValidateRejectsSourceEqualsRepository(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Sources = []Source{{SourceDir: dir, BackupDirs: []string{dir}, Enabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when backup_dir equals source_dir")
	}
}

func TestValidateRejectsDuplicateRepositoryPaths(t *testing.T) {
	src1 := t.TempDir()
	src2 := t.TempDir()
	repo := t.TempDir()
	cfg := Default()
	cfg.Sources = []Source{
		{SourceDir: src1, BackupDirs: []string{repo}, Enabled: true},
		{SourceDir: src2, BackupDirs: []string{repo}, Enabled: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for duplicate backup_dir across sources")
	}
}

func TestValidateRejectsNonPositiveMaxBackups(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.MaxBackups = 0
	cfg.Sources = []Source{{SourceDir: dir, BackupDirs: []string{filepath.Join(dir, "..", "repo")}, Enabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for max_backups <= 0")
	}
}

func TestValidateRejectsInvalidCron(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.CronSchedule = "not a cron expression"
	cfg.Sources = []Source{{SourceDir: dir, BackupDirs: []string{filepath.Join(dir, "..", "repo2")}, Enabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid cron_schedule")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Sources = []Source{{SourceDir: dir, BackupDirs: []string{filepath.Join(dir, "..", "repo3")}, Enabled: true}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestResolveSourceOverridesShadowGlobal(t *testing.T) {
	cfg := Default()
	cfg.MaxBackups = 5
	cfg.BackupMode = ModeDelta
	override := ModeCopy
	_ = override
	maxOverride := 20
	s := Source{
		SourceDir:   "/tmp/src",
		BackupDirs:  []string{"/tmp/repo"},
		MaxBackups:  maxOverride,
		BackupMode:  ModeCopy,
		Enabled:     true,
	}
	r := cfg.Resolve(s)
	if r.MaxBackups != maxOverride {
		t.Fatalf("expected override max_backups %d, got %d", maxOverride, r.MaxBackups)
	}
	if r.BackupMode != ModeCopy {
		t.Fatalf("expected override backup_mode copy, got %s", r.BackupMode)
	}
}

func TestResolveInheritsGlobalWhenNoOverride(t *testing.T) {
	cfg := Default()
	cfg.MaxBackups = 7
	s := Source{SourceDir: "/tmp/src", BackupDirs: []string{"/tmp/repo"}, Enabled: true}
	r := cfg.Resolve(s)
	if r.MaxBackups != 7 {
		t.Fatalf("expected inherited max_backups 7, got %d", r.MaxBackups)
	}
	if r.BackupMode != ModeDelta {
		t.Fatalf("expected inherited backup_mode delta, got %s", r.BackupMode)
	}
}

func TestFingerprintStableAcrossEqualConfigs(t *testing.T) {
	a := Default()
	b := Default()
	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fb, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fa != fb {
		t.Fatalf("expected equal fingerprints for equal configs")
	}

	b.MaxBackups = 99
	fc, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fa == fc {
		t.Fatalf("expected differing fingerprint after config change")
	}
}

func TestConfigNeverExposesAutoFullInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, `
max_backups: 5
auto_full_interval: 2
sources:
  - source_dir: `+t.TempDir()+`
    enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxBackups != 5 {
		t.Fatalf("expected max_backups 5 preserved, got %d", cfg.MaxBackups)
	}
}
