package commands

import (
	"fmt"

	"git.nodeforge.dev/vault/snapguard/internal/restore"
)

// ListCmd prints the snapshot chain for a repository.
type ListCmd struct {
	Repo string `short:"r" required:"" help:"Repository directory to list"`
}

// Run executes the command.
func (c *ListCmd) Run(_ *Global) error {
	names, err := restore.List(c.Repo)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no snapshots found")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
