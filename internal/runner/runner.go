// Package runner implements the job runner (C7): it forms the cartesian
// product of enabled sources and their repositories, runs one snapshot job
// per pair concurrently, and owns the force-full flag map across runs.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.nodeforge.dev/vault/snapguard/internal/backuperr"
	"git.nodeforge.dev/vault/snapguard/internal/chain"
	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/logfields"
	"git.nodeforge.dev/vault/snapguard/internal/metastore"
	"git.nodeforge.dev/vault/snapguard/internal/metrics"
	"git.nodeforge.dev/vault/snapguard/internal/snapshot"
)

// Pair identifies one (source, repository) job.
type Pair struct {
	Source string
	Repo   string
	config.Resolved
}

// JobResult is the outcome of one pair's run. JobID correlates this result
// across logs, metrics, and notifications.
type JobResult struct {
	JobID    string
	Pair     Pair
	Result   *snapshot.Result
	Duration time.Duration
	Err      error
}

// ForceFullMap tracks the per-repository one-shot force-full flag. It is
// written by a single goroutine at startup and at end-of-run; jobs receive
// a plain bool snapshot at spawn time, never a reference to the map.
type ForceFullMap struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewForceFullMap returns an empty map.
func NewForceFullMap() *ForceFullMap {
	return &ForceFullMap{flags: make(map[string]bool)}
}

// Get returns the current flag value for repo.
func (f *ForceFullMap) Get(repo string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[repo]
}

// Set assigns the flag for repo.
func (f *ForceFullMap) Set(repo string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[repo] = v
}

// Pairs forms the cartesian product of every enabled source's resolved
// repository list.
func Pairs(cfg *config.Config) []Pair {
	var pairs []Pair
	for _, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		resolved := cfg.Resolve(s)
		for _, repo := range resolved.BackupDirs {
			pairs = append(pairs, Pair{Source: resolved.SourceDir, Repo: repo, Resolved: resolved})
		}
	}
	return pairs
}

// RefreshStartupFlags evaluates the startup force-full decision for every
// pair and records it in ff. Called once before a run begins. recorder may
// be nil (its methods tolerate a nil receiver).
func RefreshStartupFlags(pairs []Pair, ff *ForceFullMap, recorder *metrics.Recorder) {
	for _, p := range pairs {
		m := metastore.Load(p.Repo)
		needsFull, reason := chain.NeedsForceFull(p.Repo, m, p.BackupMode, p.MaxBackups)
		ff.Set(p.Repo, needsFull)
		if needsFull {
			recorder.IncForceFull(p.Repo, reason)
		}
	}
}

// Run executes every pair concurrently and returns results in completion
// order. After all jobs finish, any repository that produced a full
// snapshot has its force-full flag cleared.
func Run(ctx context.Context, pairs []Pair, ff *ForceFullMap) []JobResult {
	resultsCh := make(chan JobResult, len(pairs))
	var wg sync.WaitGroup

	for _, p := range pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			resultsCh <- runOne(ctx, p, ff.Get(p.Repo))
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var results []JobResult
	for r := range resultsCh {
		results = append(results, r)
		if r.Err == nil && r.Result != nil && r.Result.Wrote && r.Result.Kind == metastore.KindFull {
			ff.Set(r.Pair.Repo, false)
		}
	}
	return results
}

func runOne(ctx context.Context, p Pair, forceFull bool) JobResult {
	jobID := uuid.NewString()
	start := time.Now()
	select {
	case <-ctx.Done():
		return JobResult{JobID: jobID, Pair: p, Err: ctx.Err()}
	default:
	}

	res, err := snapshot.Run(snapshot.Input{
		Source:          p.Source,
		Repository:      p.Repo,
		ExcludePatterns: p.ExcludePatterns,
		MaxBackups:      p.MaxBackups,
		Mode:            p.BackupMode,
		ForceFull:       forceFull,
	})

	elapsed := time.Since(start)
	attrs := []any{
		slog.String("job_id", jobID),
		logfields.Source(p.Source),
		logfields.Repository(p.Repo),
		logfields.DurationMS(float64(elapsed.Milliseconds())),
	}
	if err != nil {
		if be, ok := err.(*backuperr.Error); ok && be.Kind == backuperr.IOError {
			slog.Error("snapshot job aborted", append(attrs, logfields.Error(err))...)
		} else {
			slog.Error("snapshot job failed", append(attrs, logfields.Error(err))...)
		}
		return JobResult{JobID: jobID, Pair: p, Duration: elapsed, Err: err}
	}

	if res.Wrote {
		slog.Info("snapshot job completed", append(attrs,
			logfields.Snapshot(res.BackupName), logfields.Kind(res.Kind),
			logfields.Files(res.FilesBackedUp), logfields.Bytes(res.BytesProcessed))...)
	} else {
		slog.Debug("snapshot job produced no changes", attrs...)
	}
	return JobResult{JobID: jobID, Pair: p, Result: res, Duration: elapsed}
}
