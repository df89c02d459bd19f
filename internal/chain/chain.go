// Package chain implements the chain manager (C5): startup chain
// validation, the auto-full decision, and a retention policy that never
// severs the active delta chain.
package chain

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/delta"
	"git.nodeforge.dev/vault/snapguard/internal/metastore"
)

// AutoFullInterval is the derived cadence at which a Delta-mode repository
// is forced back to a full snapshot: max(1, maxBackups-1). It is never a
// configuration field.
func AutoFullInterval(maxBackups int) int {
	if maxBackups-1 < 1 {
		return 1
	}
	return maxBackups - 1
}

// Force-full reasons, reported to the caller for metrics/logging.
const (
	ReasonValidateFailed = "validate_failed"
	ReasonChainCorrupt   = "chain_corrupt"
	ReasonCadence        = "cadence"
)

// NeedsForceFull decides, at startup, whether repo must receive a full
// snapshot on its next run: validation failure, chain corruption, or the
// Delta-mode incremental cadence being exhausted. When it returns true, the
// second return value names the reason.
func NeedsForceFull(repo string, m *metastore.Metadata, mode config.BackupMode, maxBackups int) (bool, string) {
	if err := metastore.Validate(repo, m); err != nil {
		return true, ReasonValidateFailed
	}
	if err := ValidateChain(repo); err != nil {
		return true, ReasonChainCorrupt
	}
	if mode != config.ModeDelta {
		return false, ""
	}
	if incrementalsSinceLastFull(m) >= AutoFullInterval(maxBackups) {
		return true, ReasonCadence
	}
	return false, ""
}

func incrementalsSinceLastFull(m *metastore.Metadata) int {
	count := 0
	for i := len(m.BackupHistory) - 1; i >= 0; i-- {
		if m.BackupHistory[i].Kind == metastore.KindFull {
			break
		}
		count++
	}
	return count
}

// ValidateChain reports whether repo's on-disk delta chain is intact: a
// non-empty repository holds at least one full snapshot, and every .delta
// file under every incremental snapshot deserializes cleanly. A repository
// with no snapshot directories is reported as valid.
func ValidateChain(repo string) error {
	names, err := metastore.ListSnapshotDirs(repo)
	if err != nil {
		return err
	}

	sawFull := false
	for _, name := range names {
		kind, _, perr := metastore.ParseSnapshotName(name)
		if perr != nil {
			return backuperr.Wrap(perr, backuperr.ChainCorrupt, "malformed snapshot directory name").WithContext("name", name)
		}
		if kind == metastore.KindFull {
			sawFull = true
			continue
		}

		snapDir := filepath.Join(repo, name)
		walkErr := filepath.WalkDir(snapDir, func(path string, d os.DirEntry, werr error) error {
			if werr != nil {
				return werr
			}
			if d.IsDir() || !strings.HasSuffix(path, ".delta") {
				return nil
			}
			if _, lerr := delta.LoadDelta(path); lerr != nil {
				return lerr
			}
			return nil
		})
		if walkErr != nil {
			return backuperr.Wrap(walkErr, backuperr.ChainCorrupt, "unreadable delta file in chain").WithContext("snapshot", name)
		}
	}

	if !sawFull && len(names) > 0 {
		return backuperr.New(backuperr.ChainCorrupt, "no full snapshot found in non-empty repository").WithContext("repo", repo)
	}
	return nil
}

// PriorFile locates the most recently written snapshot's copy of relPath,
// used by the snapshot writer to diff against when building a delta. Only
// literal files are considered, never .delta payloads; the most recent
// snapshot directory (by modification time) that contains relPath wins.
func PriorFile(repo, relPath string) (string, bool) {
	names, err := metastore.ListSnapshotDirs(repo)
	if err != nil || len(names) == 0 {
		return "", false
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, name := range names {
		p := filepath.Join(repo, name, filepath.FromSlash(relPath))
		info, serr := os.Stat(p)
		if serr != nil || !info.Mode().IsRegular() {
			continue
		}
		dirInfo, derr := os.Stat(filepath.Join(repo, name))
		if derr != nil {
			continue
		}
		candidates = append(candidates, candidate{path: p, modTime: dirInfo.ModTime().UnixNano()})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })
	return candidates[0].path, true
}

// Retain applies the retention policy for repo after a snapshot has been
// written, deleting snapshot directories from the oldest end. In Copy mode
// retention simply keeps the newest maxBackups snapshots. In Delta mode the
// active chain (the latest full and everything after it) is always kept
// even if that means retaining more than maxBackups; the excess is
// reported via the returned count but never removed.
func Retain(repo string, m *metastore.Metadata, mode config.BackupMode, maxBackups int) (pruned int, excessKept int, err error) {
	history := append([]metastore.HistoryEntry(nil), m.BackupHistory...)
	sort.Slice(history, func(i, j int) bool { return history[i].CreatedAt.Before(history[j].CreatedAt) })

	count := len(history)
	if count <= maxBackups {
		return 0, 0, nil
	}

	retained := maxBackups
	if mode == config.ModeDelta {
		latestFullIdx := -1
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Kind == metastore.KindFull {
				latestFullIdx = i
				break
			}
		}
		if latestFullIdx >= 0 {
			protected := count - latestFullIdx
			if protected > retained {
				retained = protected
			}
		}
	}
	if retained > maxBackups {
		excessKept = retained - maxBackups
	}

	toDelete := history[:count-retained]
	for _, e := range toDelete {
		if rmErr := os.RemoveAll(filepath.Join(repo, e.BackupName)); rmErr != nil {
			return pruned, excessKept, backuperr.Wrap(rmErr, backuperr.IOError, "remove pruned snapshot").WithContext("snapshot", e.BackupName)
		}
		pruned++
	}
	return pruned, excessKept, nil
}
