//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"monitor.yaml",
		filepath.Join(home, ".vitalis", "monitor.yaml"),
		"/etc/vitalis/monitor.yaml",
	}
}
