package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.nodeforge.dev/vault/snapguard/cmd/snapguard/commands"
	"git.nodeforge.dev/vault/snapguard/internal/version"
)

// CLI is the root command definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"snapguard.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     commands.RunCmd     `cmd:"" help:"Perform a single backup pass over every enabled source"`
	Daemon  commands.DaemonCmd  `cmd:"" help:"Run continuously: event-driven and scheduled backups with hot-reload"`
	List    commands.ListCmd    `cmd:"" help:"List the snapshot chain in a repository"`
	Restore commands.RestoreCmd `cmd:"" help:"Restore a repository to a target directory"`
	Init    commands.InitCmd    `cmd:"" help:"Write a starter configuration file"`
}

// AfterApply installs the global structured logger before any subcommand runs.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Description("snapguard: multi-source incremental backup engine."),
		kong.Vars{"version": version.Version},
	)

	globals := &commands.Global{ConfigPath: cli.Config, Verbose: cli.Verbose}
	ctx.FatalIfErrorf(ctx.Run(globals))
}
