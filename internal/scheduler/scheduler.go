// Package scheduler implements the periodic backup trigger (A3): one cron
// loop per source, gated by a minimum-interval floor derived from the
// source's on-disk size.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.nodeforge.dev/vault/snapguard/internal/logfields"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// MinInterval returns the minimum time that must elapse between triggers
// for a source of the given size in bytes: ≤10 MiB → 1s, ≤100 MiB → 60s,
// ≤1 GiB → 1h, else 1h per ceiled GiB.
func MinInterval(sizeBytes int64) time.Duration {
	switch {
	case sizeBytes <= 10*mib:
		return time.Second
	case sizeBytes <= 100*mib:
		return time.Minute
	case sizeBytes <= gib:
		return time.Hour
	default:
		gibs := math.Ceil(float64(sizeBytes) / float64(gib))
		return time.Duration(gibs) * time.Hour
	}
}

// DirSize sums the byte size of every regular file under root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
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
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Scheduler runs one cron loop per source and posts a trigger signal on
// Triggers, enforcing a per-source minimum interval when enabled.
type Scheduler struct {
	gocron gocron.Scheduler

	mu        sync.Mutex
	lastFired map[string]time.Time
	Triggers  chan string // source path that fired
}

// New builds a Scheduler backed by gocron; call Start to begin firing and
// Shutdown to release its goroutines.
func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		gocron:    s,
		lastFired: make(map[string]time.Time),
		Triggers:  make(chan string, 64),
	}, nil
}

// SourceSchedule is the resolved per-source scheduling policy.
type SourceSchedule struct {
	Source                  string
	CronExpr                string
	EnableMinIntervalBySize bool
	SizeBytes               int64
}

// AddSource registers a cron job for one source.
func (s *Scheduler) AddSource(sched SourceSchedule) error {
	_, err := s.gocron.NewJob(
		gocron.CronJob(sched.CronExpr, true),
		gocron.NewTask(func() { s.fire(sched) }),
	)
	return err
}

func (s *Scheduler) fire(sched SourceSchedule) {
	if sched.EnableMinIntervalBySize {
		min := MinInterval(sched.SizeBytes)
		s.mu.Lock()
		last, seen := s.lastFired[sched.Source]
		if seen && time.Since(last) < min {
			s.mu.Unlock()
			slog.Debug("scheduler tick suppressed by minimum interval",
				logfields.Source(sched.Source), logfields.DurationMS(float64(min.Milliseconds())))
			return
		}
		s.lastFired[sched.Source] = time.Now()
		s.mu.Unlock()
	}

	select {
	case s.Triggers <- sched.Source:
	default:
		slog.Warn("scheduler trigger channel full, dropping tick", logfields.Source(sched.Source))
	}
}

// Start begins firing registered cron jobs.
func (s *Scheduler) Start() {
	s.gocron.Start()
}

// Shutdown stops all cron jobs and releases the scheduler's goroutines.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.gocron.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
