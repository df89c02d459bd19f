package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/daemon"
	"git.nodeforge.dev/vault/snapguard/internal/logfields"
	"git.nodeforge.dev/vault/snapguard/internal/metrics"
	"git.nodeforge.dev/vault/snapguard/internal/notify"
	"github.com/fsnotify/fsnotify"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DaemonCmd starts A2 (watcher) + A3 (scheduler) + C7 (runner) under a
// long-running supervisor with graceful shutdown and config hot-reload.
type DaemonCmd struct {
	NatsURL string `name:"nats-url" help:"Optional NATS URL for job-completion notifications"`
}

// Run executes the command.
func (c *DaemonCmd) Run(g *Global) error {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	recorder := metrics.NewRecorder(prom.NewRegistry())

	var notifier *notify.Notifier
	if c.NatsURL != "" {
		n, nerr := notify.New(c.NatsURL, "snapguard.jobs")
		if nerr != nil {
			slog.Warn("notifier connection failed, continuing without notifications", logfields.Error(nerr))
		}
		notifier = n
		defer notifier.Close()
	}

	d := daemon.New(g.ConfigPath, cfg, recorder, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopWatch := watchConfigFile(ctx, g.ConfigPath, d)
	defer stopWatch()

	return d.Run(ctx)
}

// watchConfigFile watches configPath's directory for changes and feeds a
// freshly loaded, re-validated configuration into d.Reload on each write.
func watchConfigFile(ctx context.Context, configPath string, d *daemon.Daemon) func() {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config file watcher unavailable, hot-reload disabled", logfields.Error(err))
		return func() {}
	}
	dir := configDir(configPath)
	if err := fw.Add(dir); err != nil {
		slog.Warn("failed to watch config directory, hot-reload disabled", logfields.Error(err))
		fw.Close()
		return func() {}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if configBase(event.Name) != configBase(configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				newCfg, lerr := config.Load(configPath)
				if lerr != nil {
					slog.Warn("config reload failed to load", logfields.Error(lerr))
					continue
				}
				if rerr := d.Reload(newCfg); rerr != nil {
					slog.Warn("config reload rejected", logfields.Error(rerr))
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Error("config watcher error", logfields.Error(err))
			}
		}
	}()

	return func() { fw.Close() }
}
