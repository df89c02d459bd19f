// Package metastore implements the repository metadata store (C3):
// metadata.json is the index, the on-disk snapshot set is the truth. Load
// reads the index, Synchronize reconciles it with disk, and Save serializes
// it verbatim.
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
)

// SchemaVersion is bumped when metadata.json's on-disk shape changes in a
// way that matters to future readers; an absent or unrecognized value is
// treated as 1.
const SchemaVersion = 1

// KindFull and KindIncremental are the two snapshot kinds, embedded as the
// leading component of every snapshot directory name.
const (
	KindFull        = "full"
	KindIncremental = "inc"
)

// layoutSecs is the whole-second timestamp layout, with an optional 3-digit
// millisecond suffix appended directly (no separator): YYYYMMDD_HHMMSS[mmm].
// Go's reference-time mini-language has no placeholder for a bare trailing
// fraction, so the millisecond suffix is sliced off by hand before parsing.
const layoutSecs = "20060102_150405"

// HistoryEntry records one on-disk snapshot directory.
type HistoryEntry struct {
	BackupName     string    `json:"backup_name"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
	FilesBackedUp  int       `json:"files_backed_up"`
	BytesProcessed int64     `json:"bytes_processed"`
}

// Metadata is the full metadata.json document for one repository.
type Metadata struct {
	SchemaVersion  int               `json:"schema_version"`
	LastFullBackup *time.Time        `json:"last_full_backup,omitempty"`
	LastBackup     *time.Time        `json:"last_backup,omitempty"`
	FileHashes     map[string]string `json:"file_hashes"`
	BackupHistory  []HistoryEntry    `json:"backup_history"`
}

// Empty returns the default metadata for a repository with no history.
func Empty() *Metadata {
	return &Metadata{
		SchemaVersion: SchemaVersion,
		FileHashes:    make(map[string]string),
	}
}

// Path returns the path to metadata.json within repo.
func Path(repo string) string {
	return filepath.Join(repo, "metadata.json")
}

// Load reads metadata.json from repo. A missing or unparseable file returns
// the default (empty) metadata rather than an error — the on-disk snapshot
// set is the source of truth and Synchronize will rebuild the index.
func Load(repo string) *Metadata {
	data, err := os.ReadFile(Path(repo))
	if err != nil {
		return Empty()
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Empty()
	}
	if m.FileHashes == nil {
		m.FileHashes = make(map[string]string)
	}
	if m.SchemaVersion == 0 {
		m.SchemaVersion = SchemaVersion
	}
	return &m
}

// Save serializes m to metadata.json, writing to a sibling temp file and
// renaming over the target so a crash never leaves a half-written file.
func Save(repo string, m *Metadata) error {
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "create repository directory").WithContext("repo", repo)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "marshal metadata").WithContext("repo", repo)
	}
	target := Path(repo)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "write metadata temp file").WithContext("repo", repo)
	}
	if err := os.Rename(tmp, target); err != nil {
		return backuperr.Wrap(err, backuperr.IOError, "rename metadata temp file into place").WithContext("repo", repo)
	}
	return nil
}

// ParseSnapshotName splits a snapshot directory name into its kind and
// timestamp, accepting both the millisecond-precision layout and the legacy
// whole-second layout.
func ParseSnapshotName(name string) (kind string, createdAt time.Time, err error) {
	var rest string
	switch {
	case strings.HasPrefix(name, KindFull+"_"):
		kind = KindFull
		rest = strings.TrimPrefix(name, KindFull+"_")
	case strings.HasPrefix(name, KindIncremental+"_"):
		kind = KindIncremental
		rest = strings.TrimPrefix(name, KindIncremental+"_")
	default:
		return "", time.Time{}, fmt.Errorf("snapshot name %q has no recognized kind prefix", name)
	}

	t, terr := ParseTimestamp(rest)
	if terr != nil {
		return "", time.Time{}, fmt.Errorf("snapshot name %q has malformed timestamp %q", name, rest)
	}
	return kind, t, nil
}

// FormatSnapshotName renders a snapshot directory name from a kind and UTC
// timestamp at millisecond precision.
func FormatSnapshotName(kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s_%s%03d", kind, at.Format(layoutSecs), at.Nanosecond()/1_000_000)
}

// ParseTimestamp parses a bare timestamp (no "full_"/"inc_" kind prefix),
// accepting both the millisecond-precision layout (YYYYMMDD_HHMMSSmmm) and
// the legacy whole-second layout (YYYYMMDD_HHMMSS).
func ParseTimestamp(s string) (time.Time, error) {
	switch len(s) {
	case len(layoutSecs) + 3:
		base, millisStr := s[:len(layoutSecs)], s[len(layoutSecs):]
		t, err := time.Parse(layoutSecs, base)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
		}
		millis, merr := strconv.Atoi(millisStr)
		if merr != nil {
			return time.Time{}, fmt.Errorf("malformed millisecond suffix %q: %w", s, merr)
		}
		return t.UTC().Add(time.Duration(millis) * time.Millisecond), nil
	case len(layoutSecs):
		t, err := time.Parse(layoutSecs, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp %q has unexpected length %d", s, len(s))
	}
}

// ListSnapshotDirs returns the names of every entry directly under repo
// whose name matches the snapshot pattern, unsorted.
func ListSnapshotDirs(repo string) ([]string, error) {
	entries, err := os.ReadDir(repo)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, backuperr.Wrap(err, backuperr.IOError, "read repository directory").WithContext("repo", repo)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), KindFull+"_") || strings.HasPrefix(e.Name(), KindIncremental+"_") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// countTree sums the regular-file count and total byte size under root.
func countTree(root string) (files int, bytes int64, err error) {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		if info.Mode().IsRegular() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	if walkErr != nil {
		return 0, 0, backuperr.Wrap(walkErr, backuperr.IOError, "walk snapshot tree").WithContext("path", root)
	}
	return files, bytes, nil
}

// Synchronize rebuilds m.BackupHistory from the on-disk snapshot set in
// repo, recomputing LastBackup/LastFullBackup per invariant 2. It is the
// crash-consistency strategy in lieu of filesystem transactions, and is
// intentionally called both before and after a snapshot write — do not
// collapse the two calls.
func Synchronize(repo string, m *Metadata) error {
	names, err := ListSnapshotDirs(repo)
	if err != nil {
		return err
	}

	history := make([]HistoryEntry, 0, len(names))
	for _, name := range names {
		kind, createdAt, perr := ParseSnapshotName(name)
		if perr != nil {
			return backuperr.Wrap(perr, backuperr.RepositoryInconsistent, "malformed snapshot directory name").WithContext("name", name)
		}
		files, size, cerr := countTree(filepath.Join(repo, name))
		if cerr != nil {
			return cerr
		}
		history = append(history, HistoryEntry{
			BackupName:     name,
			Kind:           kind,
			CreatedAt:      createdAt,
			FilesBackedUp:  files,
			BytesProcessed: size,
		})
	}

	sortHistory(history)
	m.BackupHistory = history
	recomputeMarkers(m)
	return nil
}

// AppendHistory adds or replaces the history entry for name, then re-sorts
// and recomputes the LastBackup/LastFullBackup markers.
func AppendHistory(m *Metadata, name, kind string, createdAt time.Time, files int, bytesProcessed int64) {
	filtered := m.BackupHistory[:0:0]
	for _, e := range m.BackupHistory {
		if e.BackupName != name {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, HistoryEntry{
		BackupName:     name,
		Kind:           kind,
		CreatedAt:      createdAt,
		FilesBackedUp:  files,
		BytesProcessed: bytesProcessed,
	})
	sortHistory(filtered)
	m.BackupHistory = filtered
	recomputeMarkers(m)
}

func sortHistory(history []HistoryEntry) {
	sort.Slice(history, func(i, j int) bool {
		if !history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return history[i].CreatedAt.Before(history[j].CreatedAt)
		}
		return history[i].BackupName < history[j].BackupName
	})
}

func recomputeMarkers(m *Metadata) {
	m.LastFullBackup = nil
	m.LastBackup = nil
	if len(m.BackupHistory) == 0 {
		return
	}
	last := m.BackupHistory[len(m.BackupHistory)-1].CreatedAt
	m.LastBackup = &last
	for i := len(m.BackupHistory) - 1; i >= 0; i-- {
		if m.BackupHistory[i].Kind == KindFull {
			t := m.BackupHistory[i].CreatedAt
			m.LastFullBackup = &t
			break
		}
	}
}

// Validate checks the bijection between disk and m.BackupHistory (invariant
// 3), the full-before-incremental ordering (invariant 4), and that the
// markers agree with history (invariant 2). Disk is ground truth.
func Validate(repo string, m *Metadata) error {
	names, err := ListSnapshotDirs(repo)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		if _, statErr := os.Stat(Path(repo)); statErr != nil {
			return backuperr.New(backuperr.RepositoryInconsistent, "snapshot directories exist but metadata.json is missing").WithContext("repo", repo)
		}
	}
	if len(names) != len(m.BackupHistory) {
		return backuperr.New(backuperr.RepositoryInconsistent, "snapshot count differs from backup_history length").
			WithContext("disk_count", len(names)).WithContext("history_count", len(m.BackupHistory))
	}

	disk := make([]HistoryEntry, 0, len(names))
	for _, name := range names {
		kind, createdAt, perr := ParseSnapshotName(name)
		if perr != nil {
			return backuperr.Wrap(perr, backuperr.RepositoryInconsistent, "malformed snapshot directory name").WithContext("name", name)
		}
		files, size, cerr := countTree(filepath.Join(repo, name))
		if cerr != nil {
			return cerr
		}
		disk = append(disk, HistoryEntry{BackupName: name, Kind: kind, CreatedAt: createdAt, FilesBackedUp: files, BytesProcessed: size})
	}
	sortHistory(disk)

	history := append([]HistoryEntry(nil), m.BackupHistory...)
	sortHistory(history)

	for i := range disk {
		d, h := disk[i], history[i]
		if d.BackupName != h.BackupName || d.Kind != h.Kind || d.FilesBackedUp != h.FilesBackedUp || d.BytesProcessed != h.BytesProcessed {
			return backuperr.New(backuperr.RepositoryInconsistent, "metadata entry does not match on-disk snapshot").
				WithContext("disk", d).WithContext("metadata", h)
		}
	}

	sawFull := false
	for _, e := range history {
		if e.Kind == KindFull {
			sawFull = true
		}
		if e.Kind == KindIncremental && !sawFull {
			return backuperr.New(backuperr.RepositoryInconsistent, "incremental snapshot precedes first full snapshot")
		}
	}

	expected := Empty()
	expected.BackupHistory = history
	recomputeMarkers(expected)
	if !timeEqual(expected.LastBackup, m.LastBackup) || !timeEqual(expected.LastFullBackup, m.LastFullBackup) {
		return backuperr.New(backuperr.RepositoryInconsistent, "last_backup/last_full_backup markers disagree with history")
	}

	return nil
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
