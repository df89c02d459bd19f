package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/snapshot"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRestoreLatestReplaysFullAndIncrementals(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	target := t.TempDir()
	now := time.Now().UTC()

	writeFile(t, filepath.Join(source, "a.txt"), "v1 content that is reasonably long so a delta is worth it")
	if _, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("snapshot 1: %v", err)
	}

	writeFile(t, filepath.Join(source, "a.txt"), "v2 content that is reasonably long so a delta is worth it")
	if _, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)}); err != nil {
		t.Fatalf("snapshot 2: %v", err)
	}

	n, err := Restore(repo, target, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected at least one file restored")
	}
	if got := readFile(t, filepath.Join(target, "a.txt")); got != "v2 content that is reasonably long so a delta is worth it" {
		t.Fatalf("unexpected restored content: %q", got)
	}
}

func TestRestoreAtPointInTime(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	target := t.TempDir()
	now := time.Now().UTC()

	writeFile(t, filepath.Join(source, "a.txt"), "v1")
	res1, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now})
	if err != nil {
		t.Fatalf("snapshot 1: %v", err)
	}

	writeFile(t, filepath.Join(source, "a.txt"), "v2")
	if _, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)}); err != nil {
		t.Fatalf("snapshot 2: %v", err)
	}

	n, err := Restore(repo, target, res1.BackupName)
	if err != nil {
		t.Fatalf("Restore at point: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 file restored at the full-only point, got %d", n)
	}
	if got := readFile(t, filepath.Join(target, "a.txt")); got != "v1" {
		t.Fatalf("expected v1 content at early cutoff, got %q", got)
	}
}

func TestRestoreAtBareTimestampPoint(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	target := t.TempDir()
	now := time.Now().UTC()

	writeFile(t, filepath.Join(source, "a.txt"), "v1")
	if _, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("snapshot 1: %v", err)
	}

	writeFile(t, filepath.Join(source, "a.txt"), "v2")
	if _, err := snapshot.Run(snapshot.Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)}); err != nil {
		t.Fatalf("snapshot 2: %v", err)
	}

	// A bare timestamp, with no "full_"/"inc_" kind prefix, between the two
	// snapshots: the full snapshot must still resolve even though the
	// cutoff sorts lexically below every prefixed directory name.
	point := now.Add(30 * time.Second).Format("20060102_150405")
	n, err := Restore(repo, target, point)
	if err != nil {
		t.Fatalf("Restore at bare timestamp point: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 file restored at the full-only point, got %d", n)
	}
	if got := readFile(t, filepath.Join(target, "a.txt")); got != "v1" {
		t.Fatalf("expected v1 content at early cutoff, got %q", got)
	}
}

func TestRestoreWithNoFullBeforeCutoffFails(t *testing.T) {
	repo := t.TempDir()
	target := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "inc_20260101_000000000"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := Restore(repo, target, "full_20250101_000000000"); err == nil {
		t.Fatalf("expected error when no full snapshot precedes the cutoff")
	}
}

func TestListReturnsSortedSnapshots(t *testing.T) {
	repo := t.TempDir()
	for _, name := range []string{"inc_20260103_000000000", "full_20260101_000000000", "inc_20260102_000000000"} {
		if err := os.MkdirAll(filepath.Join(repo, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	names, err := List(repo)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"full_20260101_000000000", "inc_20260102_000000000", "inc_20260103_000000000"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted order %v, got %v", want, names)
		}
	}
}
