// Package restore implements the restore planner (C6): selecting the
// full-plus-incrementals chain up to a point in time and replaying it
// against a target directory.
package restore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
	"git.nodeforge.dev/vault/snapguard/internal/delta"
	"git.nodeforge.dev/vault/snapguard/internal/metastore"
)

// List returns every snapshot directory name under repo, sorted by
// timestamp ascending.
func List(repo string) ([]string, error) {
	names, err := metastore.ListSnapshotDirs(repo)
	if err != nil {
		return nil, err
	}
	ts := func(name string) string { return name[strings.IndexByte(name, '_')+1:] }
	sort.SliceStable(names, func(i, j int) bool {
		ti, tj := ts(names[i]), ts(names[j])
		if ti != tj {
			return ti < tj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// Plan is the resolved sequence of snapshots to apply, full first.
type Plan struct {
	Full         string
	Incrementals []string
}

// cutoffTime resolves the caller-supplied point into a comparable instant.
// point may be empty (meaning "latest", resolved to the max representable
// time), a full snapshot directory name carrying a kind prefix, or a bare
// timestamp in either accepted layout (spec.md §8 scenario 6 passes a bare
// timestamp with no "full_"/"inc_" prefix).
func cutoffTime(point string) (time.Time, error) {
	if point == "" {
		return time.Unix(1<<62, 0).UTC(), nil
	}
	if _, t, err := metastore.ParseSnapshotName(point); err == nil {
		return t, nil
	}
	return metastore.ParseTimestamp(point)
}

// resolvePlan selects the latest full snapshot with timestamp <= cutoff and
// every incremental strictly after it and <= cutoff, comparing parsed
// timestamps rather than directory names directly so that a bare timestamp
// cutoff (which sorts below every "full_"/"inc_" prefixed name lexically)
// is still compared correctly.
func resolvePlan(names []string, point string) (*Plan, error) {
	cutoff, err := cutoffTime(point)
	if err != nil {
		return nil, backuperr.Wrap(err, backuperr.RestoreUnsatisfiable, "parse restore point").WithContext("point", point)
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var bestFull string
	var bestFullAt time.Time
	for _, n := range sorted {
		kind, at, perr := metastore.ParseSnapshotName(n)
		if perr != nil || kind != metastore.KindFull {
			continue
		}
		if !at.After(cutoff) {
			bestFull, bestFullAt = n, at
		}
	}
	if bestFull == "" {
		return nil, backuperr.New(backuperr.RestoreUnsatisfiable, "no full snapshot at or before the requested point").WithContext("point", point)
	}

	var incs []string
	for _, n := range sorted {
		kind, at, perr := metastore.ParseSnapshotName(n)
		if perr != nil || kind != metastore.KindIncremental {
			continue
		}
		if at.After(bestFullAt) && !at.After(cutoff) {
			incs = append(incs, n)
		}
	}
	sort.Strings(incs)

	return &Plan{Full: bestFull, Incrementals: incs}, nil
}

// Restore replays repo's full-plus-incrementals chain up to point (or the
// latest snapshot if point is empty) into target, returning the number of
// files restored.
func Restore(repo, target, point string) (int, error) {
	names, err := List(repo)
	if err != nil {
		return 0, err
	}

	plan, err := resolvePlan(names, point)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return 0, backuperr.Wrap(err, backuperr.IOError, "create restore target").WithContext("target", target)
	}

	count := 0
	ordered := append([]string{plan.Full}, plan.Incrementals...)
	for _, snap := range ordered {
		n, err := applySnapshot(filepath.Join(repo, snap), target)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func applySnapshot(snapDir, target string) (int, error) {
	count := 0
	err := filepath.WalkDir(snapDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(snapDir, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if strings.HasSuffix(rel, ".delta") {
			targetRel := strings.TrimSuffix(rel, ".delta")
			if aerr := applyDeltaFile(path, filepath.Join(target, filepath.FromSlash(targetRel))); aerr != nil {
				return aerr
			}
			count++
			return nil
		}

		dst := filepath.Join(target, filepath.FromSlash(rel))
		if cerr := copyLiteral(path, dst); cerr != nil {
			return cerr
		}
		count++
		return nil
	})
	if err != nil {
		if be, ok := err.(*backuperr.Error); ok {
			return count, be
		}
		return count, backuperr.Wrap(err, backuperr.IOError, "walk snapshot during restore").WithContext("snapshot", snapDir)
	}
	return count, nil
}

func applyDeltaFile(deltaPath, targetPath string) error {
	d, err := delta.LoadDelta(deltaPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create restore parent directory").WithContext("path", targetPath)
	}

	if _, statErr := os.Stat(targetPath); statErr == nil {
		tmp := targetPath + ".restoring"
		if err := delta.ApplyDelta(targetPath, d, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, targetPath); err != nil {
			return backuperr.Wrap(err, backuperr.IOError, "rename restored file into place").WithContext("path", targetPath)
		}
		return nil
	}

	empty, err := os.CreateTemp(filepath.Dir(targetPath), "snapguard-empty-*")
	if err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create empty base for delta apply").WithContext("path", targetPath)
	}
	emptyPath := empty.Name()
	empty.Close()
	defer os.Remove(emptyPath)

	return delta.ApplyDelta(emptyPath, d, targetPath)
}

func copyLiteral(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create restore parent directory").WithContext("path", dst)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "read snapshot file").WithContext("path", src)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "write restored file").WithContext("path", dst)
	}
	return nil
}
