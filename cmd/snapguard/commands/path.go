package commands

import "path/filepath"

func configDir(path string) string  { return filepath.Dir(path) }
func configBase(path string) string { return filepath.Base(path) }
