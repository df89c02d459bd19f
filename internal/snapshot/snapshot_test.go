package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/chain"
	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/metastore"
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

func TestRunFirstSnapshotIsFull(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")

	res, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Wrote || res.Kind != metastore.KindFull {
		t.Fatalf("expected a written full snapshot, got %+v", res)
	}
	if res.FilesBackedUp != 1 {
		t.Fatalf("expected 1 file backed up, got %d", res.FilesBackedUp)
	}
}

func TestRunIncrementalNoChangesIsNoop(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")

	now := time.Now().UTC()
	if _, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	res, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Wrote {
		t.Fatalf("expected no-op when nothing changed")
	}
}

func TestRunIncrementalUsesDeltaForChangedFile(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	path := filepath.Join(source, "a.txt")
	// Four 4 KiB blocks; changing one keeps the delta payload at 25% of the
	// file, under the threshold above which a literal copy is written instead.
	original := strings.Repeat("a", 4*4096)
	writeFile(t, path, original)

	now := time.Now().UTC()
	if _, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	writeFile(t, path, original[:4096]+"b"+original[4097:])
	res, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Wrote || res.Kind != metastore.KindIncremental {
		t.Fatalf("expected an incremental snapshot, got %+v", res)
	}
	deltaPath := filepath.Join(repo, res.BackupName, "a.txt.delta")
	if _, statErr := os.Stat(deltaPath); statErr != nil {
		t.Fatalf("expected delta file to exist: %v", statErr)
	}
}

func TestRunForceFullUpgradesAndRescans(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")
	writeFile(t, filepath.Join(source, "b.txt"), "world")

	now := time.Now().UTC()
	if _, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Only a.txt changes, but ForceFull is set: expect a full snapshot
	// that includes b.txt too, not just a.txt.
	writeFile(t, filepath.Join(source, "a.txt"), "hello-changed")
	res, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, ForceFull: true, Now: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Kind != metastore.KindFull {
		t.Fatalf("expected force-full to produce a full snapshot, got %s", res.Kind)
	}
	if res.FilesBackedUp != 2 {
		t.Fatalf("expected full re-scan to include unchanged b.txt, got %d files", res.FilesBackedUp)
	}
}

func TestRunForceFullCadenceSequence(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	path := filepath.Join(source, "a.txt")
	now := time.Now().UTC()

	var kinds []string
	contents := []string{"v1", "v2", "v3", "v4"}
	for i, content := range contents {
		writeFile(t, path, content)
		forceFull, _ := chain.NeedsForceFull(repo, metastore.Load(repo), config.ModeDelta, 3)
		res, err := Run(Input{
			Source: source, Repository: repo, MaxBackups: 3, Mode: config.ModeDelta,
			ForceFull: forceFull, Now: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Wrote {
			kinds = append(kinds, res.Kind)
		}
	}

	want := []string{metastore.KindFull, metastore.KindIncremental, metastore.KindIncremental, metastore.KindFull}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d snapshots, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("snapshot %d: expected kind %s, got %s (full sequence %v)", i, want[i], kinds[i], kinds)
		}
	}
}

func TestRunRemovesDeletedFileFromHashes(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")
	writeFile(t, filepath.Join(source, "b.txt"), "world")

	now := time.Now().UTC()
	if _, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if err := os.Remove(filepath.Join(source, "b.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, filepath.Join(source, "a.txt"), "hello-changed")
	if _, err := Run(Input{Source: source, Repository: repo, MaxBackups: 10, Mode: config.ModeDelta, Now: now.Add(time.Minute)}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	m := metastore.Load(repo)
	if _, ok := m.FileHashes["b.txt"]; ok {
		t.Fatalf("expected b.txt removed from file_hashes after deletion")
	}
	if _, ok := m.FileHashes["a.txt"]; !ok {
		t.Fatalf("expected a.txt still present in file_hashes")
	}
}
