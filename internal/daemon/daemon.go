// Package daemon wires the watcher, scheduler, and job runner into a
// long-running process: graceful shutdown on signal, and hot-reload of the
// configuration with failed-validation memoization by fingerprint.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/logfields"
	"git.nodeforge.dev/vault/snapguard/internal/metrics"
	"git.nodeforge.dev/vault/snapguard/internal/notify"
	"git.nodeforge.dev/vault/snapguard/internal/runner"
	"git.nodeforge.dev/vault/snapguard/internal/scheduler"
	"git.nodeforge.dev/vault/snapguard/internal/watcher"
)

// Status is the daemon's coarse lifecycle state.
type Status = string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon owns the running set of per-source watchers and the scheduler,
// and re-derives them whenever the configuration is hot-reloaded.
type Daemon struct {
	configPath string
	status     atomic.Value

	mu       sync.RWMutex
	cfg      *config.Config
	ff       *runner.ForceFullMap
	recorder *metrics.Recorder
	notifier *notify.Notifier

	failedFingerprints sync.Map // fingerprint -> struct{}

	cancel    context.CancelFunc
	genCancel context.CancelFunc
	reloadCh  chan struct{}
	workers   sync.WaitGroup
}

// New constructs a Daemon from an already-loaded configuration.
func New(configPath string, cfg *config.Config, recorder *metrics.Recorder, notifier *notify.Notifier) *Daemon {
	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		ff:         runner.NewForceFullMap(),
		recorder:   recorder,
		notifier:   notifier,
		reloadCh:   make(chan struct{}, 1),
	}
	d.status.Store(StatusStopped)
	return d
}

// Status returns the daemon's current lifecycle state.
func (d *Daemon) Status() Status {
	return d.status.Load().(Status)
}

// Run starts watchers and the scheduler for the current configuration and
// blocks until ctx is canceled, performing a graceful shutdown. A
// configuration swap delivered via Reload aborts the running generation's
// watcher/scheduler tasks and installs a fresh one without losing ctx.
func (d *Daemon) Run(ctx context.Context) error {
	d.status.Store(StatusStarting)
	outerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for {
		if outerCtx.Err() != nil {
			break
		}
		d.runGeneration(outerCtx)
		if outerCtx.Err() != nil {
			break
		}
		// Fell out of runGeneration because of a reload signal, not shutdown.
	}

	d.status.Store(StatusStopped)
	slog.Info("daemon stopped")
	return nil
}

// runGeneration starts one watcher/scheduler generation against the
// current configuration and blocks until either outerCtx is canceled
// (full shutdown) or a reload arrives (generation restart).
func (d *Daemon) runGeneration(outerCtx context.Context) {
	genCtx, genCancel := context.WithCancel(outerCtx)
	d.genCancel = genCancel
	defer genCancel()

	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	pairs := runner.Pairs(cfg)
	runner.RefreshStartupFlags(pairs, d.ff, d.recorder)

	triggers := make(chan string, 256)
	watchers := d.startWatchers(genCtx, cfg, triggers)
	sched, err := d.startScheduler(genCtx, cfg, triggers)
	if err != nil {
		slog.Error("failed to start scheduler for generation", logfields.Error(err))
	}

	d.status.Store(StatusRunning)
	slog.Info("daemon generation started", slog.Int("sources", len(cfg.Sources)))

	select {
	case <-outerCtx.Done():
	case <-d.reloadCh:
		slog.Info("reloading configuration, restarting watchers and scheduler")
	case <-d.dispatchUntil(genCtx, triggers):
	}

	d.status.Store(StatusStopping)
	genCancel()
	for _, w := range watchers {
		w.Stop()
	}
	if sched != nil {
		_ = sched.Shutdown(context.Background())
	}
	d.workers.Wait()
}

// dispatchUntil runs the trigger dispatch loop in the background and
// returns a channel closed when genCtx is done.
func (d *Daemon) dispatchUntil(genCtx context.Context, triggers <-chan string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.dispatchLoop(genCtx, triggers)
	}()
	return done
}

// Shutdown cancels the running context, triggering a graceful stop.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) startWatchers(ctx context.Context, cfg *config.Config, triggers chan<- string) []*watcher.SourceWatcher {
	var watchers []*watcher.SourceWatcher
	for _, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		resolved := cfg.Resolve(s)
		if !resolved.EnableEventDriven {
			continue
		}
		w, err := watcher.New(resolved.SourceDir)
		if err != nil {
			slog.Error("failed to start source watcher", logfields.Source(resolved.SourceDir), logfields.Error(err))
			continue
		}
		w.Start(ctx)
		watchers = append(watchers, w)

		d.workers.Add(1)
		go func(source string, ch <-chan struct{}) {
			defer d.workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case triggers <- source:
					default:
					}
				}
			}
		}(resolved.SourceDir, w.Triggers)
	}
	return watchers
}

func (d *Daemon) startScheduler(ctx context.Context, cfg *config.Config, triggers chan<- string) (*scheduler.Scheduler, error) {
	hasPeriodic := false
	for _, s := range cfg.Sources {
		if s.Enabled && cfg.Resolve(s).EnablePeriodic {
			hasPeriodic = true
			break
		}
	}
	if !hasPeriodic {
		return nil, nil
	}

	sched, err := scheduler.New()
	if err != nil {
		return nil, err
	}
	for _, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		resolved := cfg.Resolve(s)
		if !resolved.EnablePeriodic {
			continue
		}
		size, _ := scheduler.DirSize(resolved.SourceDir)
		if err := sched.AddSource(scheduler.SourceSchedule{
			Source:                  resolved.SourceDir,
			CronExpr:                resolved.CronSchedule,
			EnableMinIntervalBySize: resolved.EnableMinIntervalBySize,
			SizeBytes:               size,
		}); err != nil {
			slog.Error("failed to register cron job", logfields.Source(resolved.SourceDir), logfields.Error(err))
		}
	}
	sched.Start()

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case src, ok := <-sched.Triggers:
				if !ok {
					return
				}
				select {
				case triggers <- src:
				default:
				}
			}
		}
	}()

	return sched, nil
}

func (d *Daemon) dispatchLoop(ctx context.Context, triggers <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case source, ok := <-triggers:
			if !ok {
				return
			}
			d.runForSource(ctx, source)
		}
	}
}

func (d *Daemon) runForSource(ctx context.Context, source string) {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	var target *config.Source
	for i := range cfg.Sources {
		if cfg.Sources[i].SourceDir == source {
			target = &cfg.Sources[i]
			break
		}
	}
	if target == nil {
		return
	}

	resolved := cfg.Resolve(*target)
	var pairs []runner.Pair
	for _, repo := range resolved.BackupDirs {
		pairs = append(pairs, runner.Pair{Source: resolved.SourceDir, Repo: repo, Resolved: resolved})
	}

	results := runner.Run(ctx, pairs, d.ff)
	for _, r := range results {
		d.recordResult(r)
	}
}

func (d *Daemon) recordResult(r runner.JobResult) {
	if d.recorder != nil && r.Result != nil {
		outcome := "success"
		if r.Err != nil {
			outcome = "error"
		}
		d.recorder.ObserveJob(r.Pair.Source, r.Pair.Repo, r.Result.Kind, outcome, r.Duration)
		d.recorder.AddBytesProcessed(r.Pair.Source, r.Pair.Repo, r.Result.BytesProcessed)
		d.recorder.AddPruned(r.Pair.Repo, r.Result.Pruned)
	}
	if d.notifier != nil && r.Result != nil && r.Result.Wrote {
		outcome := "success"
		if r.Err != nil {
			outcome = "error"
		}
		d.notifier.Publish(notify.Event{
			JobID:          r.JobID,
			Source:         r.Pair.Source,
			Repository:     r.Pair.Repo,
			Kind:           r.Result.Kind,
			Outcome:        outcome,
			BackupName:     r.Result.BackupName,
			FilesBackedUp:  r.Result.FilesBackedUp,
			BytesProcessed: r.Result.BytesProcessed,
			FinishedAt:     time.Now(),
		})
	}
}

// Reload validates newCfg, and if it differs from the active configuration
// and has not previously failed validation, swaps it in atomically. A
// configuration that already failed validation is not retried until its
// fingerprint changes.
func (d *Daemon) Reload(newCfg *config.Config) error {
	fp, err := newCfg.Fingerprint()
	if err != nil {
		return err
	}
	if _, failed := d.failedFingerprints.Load(fp); failed {
		slog.Debug("skipping reload of previously failed configuration", logfields.Fingerprint(fp))
		return nil
	}
	d.mu.RLock()
	active := d.cfg
	d.mu.RUnlock()
	if active != nil {
		if activeFP, ferr := active.Fingerprint(); ferr == nil && activeFP == fp {
			slog.Debug("skipping reload of unchanged configuration", logfields.Fingerprint(fp))
			return nil
		}
	}
	if err := newCfg.Validate(); err != nil {
		d.failedFingerprints.Store(fp, struct{}{})
		return err
	}

	d.mu.Lock()
	d.cfg = newCfg
	d.mu.Unlock()
	slog.Info("configuration reloaded", logfields.Fingerprint(fp))

	select {
	case d.reloadCh <- struct{}{}:
	default:
	}
	return nil
}
