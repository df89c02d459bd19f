package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/metrics"
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

func TestPairsFormsCartesianProductOfEnabledSources(t *testing.T) {
	src1 := t.TempDir()
	src2 := t.TempDir()
	cfg := config.Default()
	cfg.Sources = []config.Source{
		{SourceDir: src1, BackupDirs: []string{"/repo/a", "/repo/b"}, Enabled: true},
		{SourceDir: src2, BackupDirs: []string{"/repo/c"}, Enabled: false},
	}

	pairs := Pairs(cfg)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs from the enabled source only, got %d", len(pairs))
	}
	for _, p := range pairs {
		if p.Source != src1 {
			t.Fatalf("expected only the enabled source's pairs, got %s", p.Source)
		}
	}
}

func TestRunExecutesAllPairsAndClearsForceFullAfterFull(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hello")

	cfg := config.Default()
	cfg.Sources = []config.Source{{SourceDir: source, BackupDirs: []string{repo}, Enabled: true}}
	pairs := Pairs(cfg)

	ff := NewForceFullMap()
	ff.Set(repo, true)

	results := Run(context.Background(), pairs, ff)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if !results[0].Result.Wrote {
		t.Fatalf("expected a snapshot to be written")
	}
	if ff.Get(repo) {
		t.Fatalf("expected force-full flag cleared after a successful full snapshot")
	}
}

func TestRefreshStartupFlagsRecordsForceFullReason(t *testing.T) {
	source := t.TempDir()
	repo := t.TempDir()
	// A snapshot directory with no metadata.json is an inconsistent
	// repository: Validate fails, so NeedsForceFull reports validate_failed.
	if err := os.MkdirAll(filepath.Join(repo, "full_20260101_000000000"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg := config.Default()
	cfg.Sources = []config.Source{{SourceDir: source, BackupDirs: []string{repo}, Enabled: true}}
	pairs := Pairs(cfg)

	reg := prom.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	ff := NewForceFullMap()

	RefreshStartupFlags(pairs, ff, recorder)

	if !ff.Get(repo) {
		t.Fatalf("expected force-full flag set for an inconsistent repository")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !hasForceFullSample(families, repo, "validate_failed") {
		t.Fatalf("expected chain_force_full_total{repository=%q,reason=validate_failed}=1", repo)
	}
}

// hasForceFullSample reports whether the gathered metric families contain a
// chain_force_full_total sample for repo and reason with value 1.
func hasForceFullSample(families []*dto.MetricFamily, repo, reason string) bool {
	for _, fam := range families {
		if fam.GetName() != "snapguard_chain_force_full_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			var gotRepo, gotReason string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "repository":
					gotRepo = lp.GetValue()
				case "reason":
					gotReason = lp.GetValue()
				}
			}
			if gotRepo == repo && gotReason == reason && m.GetCounter().GetValue() == 1 {
				return true
			}
		}
	}
	return false
}

func TestForceFullMapGetSetIndependentKeys(t *testing.T) {
	ff := NewForceFullMap()
	ff.Set("/repo/a", true)
	ff.Set("/repo/b", false)
	if !ff.Get("/repo/a") {
		t.Fatalf("expected /repo/a true")
	}
	if ff.Get("/repo/b") {
		t.Fatalf("expected /repo/b false")
	}
	if ff.Get("/repo/unset") {
		t.Fatalf("expected default false for unset key")
	}
}
