package commands

import (
	"fmt"

	"git.nodeforge.dev/vault/snapguard/internal/restore"
)

// RestoreCmd replays a repository's chain up to an optional point in time
// into a target directory.
type RestoreCmd struct {
	Repo   string `short:"r" required:"" help:"Repository directory to restore from"`
	Target string `short:"t" required:"" help:"Target directory to restore into"`
	Point  string `short:"p" help:"Snapshot name to restore up to (default: latest)"`
}

// Run executes the command.
func (c *RestoreCmd) Run(_ *Global) error {
	n, err := restore.Restore(c.Repo, c.Target, c.Point)
	if err != nil {
		return err
	}
	fmt.Printf("restored %d files to %s\n", n, c.Target)
	return nil
}
