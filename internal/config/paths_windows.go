//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	programData := os.Getenv("ProgramData")
	return []string{
		"monitor.yaml",
		filepath.Join(os.Getenv("APPDATA"), "Vitalis", "monitor.yaml"),
		filepath.Join(programData, "Vitalis", "monitor.yaml"),
	}
}
