// Package commands implements the snapguard CLI's subcommands.
package commands

// Global carries flags shared across every subcommand.
type Global struct {
	ConfigPath string
	Verbose    bool
}
