// Package logfields provides canonical log field names and helpers for structured logging in snapguard.
package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
// These are used for structured logging with slog.
const (
	KeyJobID       = "job_id"
	KeyJobStatus   = "job_status"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeySource      = "source"
	KeyRepository  = "repository"
	KeySnapshot    = "snapshot"
	KeyKind        = "kind"
	KeyMode        = "mode"
	KeyError       = "error"
	KeyPath        = "path"
	KeyFile        = "file"
	KeyFiles       = "files"
	KeyBytes       = "bytes"
	KeyWorker      = "worker"
	KeyForceFull   = "force_full"
	KeyPoint       = "point"
	KeyCutoff      = "cutoff"
	KeyCron        = "cron"
	KeyFingerprint = "fingerprint"
)

// JobID returns a slog.Attr for the job ID field.
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

// JobStatus returns a slog.Attr for the job status field.
func JobStatus(s string) slog.Attr { return slog.String(KeyJobStatus, s) }

// Stage returns a slog.Attr for stage name.
func Stage(name string) slog.Attr { return slog.String(KeyStage, name) }

// DurationMS returns a slog.Attr for duration in ms.
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

// Source returns a slog.Attr for the source directory.
func Source(s string) slog.Attr { return slog.String(KeySource, s) }

// Repository returns a slog.Attr for the repository path.
func Repository(r string) slog.Attr { return slog.String(KeyRepository, r) }

// Snapshot returns a slog.Attr for a snapshot name.
func Snapshot(n string) slog.Attr { return slog.String(KeySnapshot, n) }

// Kind returns a slog.Attr for a snapshot kind (full|inc).
func Kind(k string) slog.Attr { return slog.String(KeyKind, k) }

// Mode returns a slog.Attr for a backup mode (delta|copy).
func Mode(m string) slog.Attr { return slog.String(KeyMode, m) }

// Path returns a slog.Attr for a file path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// File returns a slog.Attr for a file name.
func File(f string) slog.Attr { return slog.String(KeyFile, f) }

// Files returns a slog.Attr for a file count.
func Files(n int) slog.Attr { return slog.Int(KeyFiles, n) }

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// Worker returns a slog.Attr for a worker ID.
func Worker(id string) slog.Attr { return slog.String(KeyWorker, id) }

// ForceFull returns a slog.Attr for the force-full flag.
func ForceFull(v bool) slog.Attr { return slog.Bool(KeyForceFull, v) }

// Point returns a slog.Attr for a restore point.
func Point(p string) slog.Attr { return slog.String(KeyPoint, p) }

// Cutoff returns a slog.Attr for a resolved restore cutoff.
func Cutoff(c string) slog.Attr { return slog.String(KeyCutoff, c) }

// Cron returns a slog.Attr for a cron expression.
func Cron(c string) slog.Attr { return slog.String(KeyCron, c) }

// Fingerprint returns a slog.Attr for a configuration fingerprint.
func Fingerprint(f string) slog.Attr { return slog.String(KeyFingerprint, f) }

// Error returns a slog.Attr for an error, or an empty string if nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
