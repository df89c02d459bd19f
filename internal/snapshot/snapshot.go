// Package snapshot implements the snapshot writer (C4): for one
// (source, repository) pair it scans, decides full vs. incremental, writes
// literal copies or deltas, and persists the updated repository metadata.
package snapshot

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
	"git.nodeforge.dev/vault/snapguard/internal/chain"
	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/delta"
	"git.nodeforge.dev/vault/snapguard/internal/logfields"
	"git.nodeforge.dev/vault/snapguard/internal/metastore"
	"git.nodeforge.dev/vault/snapguard/internal/scan"
)

// deltaPayloadThreshold is the fraction of the new file's size beyond which
// a delta is rejected in favor of a literal copy: the saving no longer
// justifies chain complexity.
const deltaPayloadThreshold = 0.5

// Input describes one (source, repository) pair to snapshot.
type Input struct {
	Source          string
	Repository      string
	ExcludePatterns []string
	MaxBackups      int
	Mode            config.BackupMode
	ForceFull       bool
	Now             time.Time
}

// Result reports what a snapshot run did.
type Result struct {
	Wrote          bool
	BackupName     string
	Kind           string
	FilesBackedUp  int
	BytesProcessed int64
	Pruned         int
	ExcessKept     int
}

// Run executes the 12-step snapshot procedure for in.
func Run(in Input) (*Result, error) {
	if err := os.MkdirAll(in.Repository, 0o755); err != nil {
		return nil, backuperr.Wrap(err, backuperr.IOError, "ensure repository directory").WithContext("repo", in.Repository)
	}

	m := metastore.Load(in.Repository)
	if err := metastore.Synchronize(in.Repository, m); err != nil {
		return nil, err
	}

	prior := scan.PriorState{HasLastFullBackup: m.LastFullBackup != nil, FileHashes: m.FileHashes}
	result, err := scan.Scan(in.Source, prior, in.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	decision := result.Decision
	changed := result.ChangedPaths
	if in.ForceFull && decision == scan.Incremental {
		decision = scan.Full
		full, ferr := scan.Scan(in.Source, scan.PriorState{}, in.ExcludePatterns)
		if ferr != nil {
			return nil, ferr
		}
		result = full
		changed = full.ChangedPaths
	}

	if decision == scan.Incremental && len(changed) == 0 {
		return &Result{Wrote: false}, nil
	}

	kind := metastore.KindIncremental
	if decision == scan.Full {
		kind = metastore.KindFull
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	backupName := metastore.FormatSnapshotName(kind, now)
	snapRoot := filepath.Join(in.Repository, backupName)
	if err := os.MkdirAll(snapRoot, 0o755); err != nil {
		return nil, backuperr.Wrap(err, backuperr.IOError, "create snapshot directory").WithContext("snapshot", backupName)
	}

	useDelta := in.Mode == config.ModeDelta && decision == scan.Incremental

	var filesBackedUp int
	var bytesProcessed int64
	for _, rel := range changed {
		srcPath := filepath.Join(in.Source, filepath.FromSlash(rel))
		dstPath := filepath.Join(snapRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return nil, backuperr.Wrap(err, backuperr.IOError, "create snapshot parent directory").WithContext("path", rel)
		}

		var n int64
		if decision == scan.Full || !useDelta {
			n, err = copyFile(srcPath, dstPath)
		} else {
			n, err = writeDeltaOrCopy(in.Repository, rel, srcPath, dstPath)
		}
		if err != nil {
			return nil, err
		}

		bytesProcessed += n
		filesBackedUp++
		m.FileHashes[rel] = result.CurrentHashes[rel]
	}

	for rel := range m.FileHashes {
		if _, ok := result.CurrentHashes[rel]; !ok {
			delete(m.FileHashes, rel)
		}
	}

	metastore.AppendHistory(m, backupName, kind, now, filesBackedUp, bytesProcessed)

	pruned, excessKept, retainErr := chain.Retain(in.Repository, m, in.Mode, in.MaxBackups)
	if retainErr != nil {
		// Retention is best-effort: the snapshot just written is still valid
		// and the next run will retry pruning.
		slog.Warn("retention failed, will retry next run", logfields.Repository(in.Repository), logfields.Error(retainErr))
		pruned, excessKept = 0, 0
	}

	if err := metastore.Synchronize(in.Repository, m); err != nil {
		return nil, err
	}
	if err := metastore.Save(in.Repository, m); err != nil {
		return nil, err
	}

	return &Result{
		Wrote:          true,
		BackupName:     backupName,
		Kind:           kind,
		FilesBackedUp:  filesBackedUp,
		BytesProcessed: bytesProcessed,
		Pruned:         pruned,
		ExcessKept:     excessKept,
	}, nil
}

// writeDeltaOrCopy attempts to persist rel as a delta against its most
// recent prior snapshot copy; it falls back to a literal copy if no prior
// file exists or the delta payload exceeds the size threshold.
func writeDeltaOrCopy(repo, rel, srcPath, dstPath string) (int64, error) {
	prevPath, ok := chain.PriorFile(repo, rel)
	if !ok {
		return copyFile(srcPath, dstPath)
	}

	d, err := delta.CreateDelta(prevPath, srcPath)
	if err != nil {
		return 0, err
	}

	info, statErr := os.Stat(srcPath)
	if statErr != nil {
		return 0, backuperr.Wrap(statErr, backuperr.IOError, "stat source file").WithContext("path", rel)
	}
	if info.Size() > 0 && float64(d.PayloadSize())/float64(info.Size()) > deltaPayloadThreshold {
		return copyFile(srcPath, dstPath)
	}

	deltaPath := dstPath + ".delta"
	if err := delta.SaveDelta(d, deltaPath); err != nil {
		return 0, err
	}
	return int64(d.PayloadSize()), nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, backuperr.Wrap(err, backuperr.IOError, "open source file for copy").WithContext("path", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, backuperr.Wrap(err, backuperr.IOError, "create snapshot file").WithContext("path", dst)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, backuperr.Wrap(err, backuperr.IOError, "copy file into snapshot").WithContext("path", dst)
	}
	return n, nil
}
