package commands

import (
	"context"
	"fmt"
	"log/slog"

	"git.nodeforge.dev/vault/snapguard/internal/config"
	"git.nodeforge.dev/vault/snapguard/internal/runner"
)

// RunCmd performs a single pass over every enabled (source, repository)
// pair and exits non-zero if any pair failed.
type RunCmd struct{}

// Run executes the command.
func (c *RunCmd) Run(g *Global) error {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pairs := runner.Pairs(cfg)
	if len(pairs) == 0 {
		slog.Warn("no enabled sources configured")
		return nil
	}

	ff := runner.NewForceFullMap()
	runner.RefreshStartupFlags(pairs, ff, nil)

	results := runner.Run(context.Background(), pairs, ff)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("FAILED  %s -> %s: %v\n", r.Pair.Source, r.Pair.Repo, r.Err)
			continue
		}
		if r.Result.Wrote {
			fmt.Printf("OK      %s -> %s: %s (%s, %d files, %d bytes)\n",
				r.Pair.Source, r.Pair.Repo, r.Result.BackupName, r.Result.Kind, r.Result.FilesBackedUp, r.Result.BytesProcessed)
		} else {
			fmt.Printf("NOOP    %s -> %s: no changes\n", r.Pair.Source, r.Pair.Repo)
		}
	}

	fmt.Printf("%d pairs, %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d pairs failed", failed, len(results))
	}
	return nil
}
