package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"git.nodeforge.dev/vault/snapguard/internal/config"
)

// InitCmd writes a starter YAML configuration file.
type InitCmd struct {
	Output string `short:"o" help:"Output path for the generated configuration file" default:"snapguard.yaml"`
	Force  bool   `help:"Overwrite an existing configuration file"`
}

// Run executes the command.
func (c *InitCmd) Run(_ *Global) error {
	if !c.Force {
		if _, err := os.Stat(c.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.Output)
		}
	}

	cfg := config.Default()
	cfg.Sources = []config.Source{{
		SourceDir:  "/path/to/your/data",
		BackupDirs: []string{"/path/to/your/data/.backup"},
		Enabled:    true,
	}}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal starter configuration: %w", err)
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", c.Output, err)
	}
	fmt.Printf("wrote starter configuration to %s\n", c.Output)
	return nil
}
