// Package metrics implements the Prometheus recorder (A5): counters and
// histograms for snapshot jobs, chain force-fulls, and retention pruning.
package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder registers and updates the snapguard Prometheus metrics.
type Recorder struct {
	once sync.Once

	snapshotJobs     *prom.CounterVec
	snapshotBytes    *prom.CounterVec
	snapshotDuration *prom.HistogramVec
	chainForceFull   *prom.CounterVec
	retentionPruned  *prom.CounterVec
}

// NewRecorder constructs and registers the snapguard metrics against reg (a
// nil reg creates a private registry). Each call registers a new set of
// collectors, so registering a second Recorder against the same reg panics.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{}
	r.once.Do(func() {
		r.snapshotJobs = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "snapguard",
			Name:      "snapshot_jobs_total",
			Help:      "Snapshot jobs by source, repository, kind, and outcome",
		}, []string{"source", "repository", "kind", "outcome"})
		r.snapshotBytes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "snapguard",
			Name:      "snapshot_bytes_processed_total",
			Help:      "Bytes processed (copied or delta payload) per source/repository",
		}, []string{"source", "repository"})
		r.snapshotDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "snapguard",
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of a snapshot job",
			Buckets:   prom.DefBuckets,
		}, []string{"source", "repository"})
		r.chainForceFull = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "snapguard",
			Name:      "chain_force_full_total",
			Help:      "Forced full snapshots by repository and reason",
		}, []string{"repository", "reason"})
		r.retentionPruned = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "snapguard",
			Name:      "retention_pruned_total",
			Help:      "Snapshots removed by retention per repository",
		}, []string{"repository"})
		reg.MustRegister(r.snapshotJobs, r.snapshotBytes, r.snapshotDuration, r.chainForceFull, r.retentionPruned)
	})
	return r
}

// ObserveJob records the outcome and duration of one snapshot job.
func (r *Recorder) ObserveJob(source, repository, kind, outcome string, d time.Duration) {
	if r == nil || r.snapshotJobs == nil {
		return
	}
	r.snapshotJobs.WithLabelValues(source, repository, kind, outcome).Inc()
	r.snapshotDuration.WithLabelValues(source, repository).Observe(d.Seconds())
}

// AddBytesProcessed accumulates bytes processed for a source/repository pair.
func (r *Recorder) AddBytesProcessed(source, repository string, n int64) {
	if r == nil || r.snapshotBytes == nil {
		return
	}
	r.snapshotBytes.WithLabelValues(source, repository).Add(float64(n))
}

// IncForceFull records a forced-full decision for repository, tagged with
// its triggering reason (validate_failed, chain_corrupt, cadence).
func (r *Recorder) IncForceFull(repository, reason string) {
	if r == nil || r.chainForceFull == nil {
		return
	}
	r.chainForceFull.WithLabelValues(repository, reason).Inc()
}

// AddPruned records the number of snapshots retention removed for repository.
func (r *Recorder) AddPruned(repository string, n int) {
	if r == nil || r.retentionPruned == nil || n == 0 {
		return
	}
	r.retentionPruned.WithLabelValues(repository).Add(float64(n))
}
