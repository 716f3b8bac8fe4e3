package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLayered_CLIOverridesEverything(t *testing.T) {
	embedded := []byte("server:\n  addr: \":7000\"\nmonitor:\n  machines: 3")
	t.Setenv("MM_ADDR", ":7100")
	t.Setenv("MM_MACHINES", "4")
	cli := CLIOverrides{Addr: ":7200", Machines: 8}

	cfg, err := LoadLayered(cli, embedded, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7200" {
		t.Errorf("Addr = %q, want CLI override", cfg.Server.Addr)
	}
	if cfg.Monitor.Machines != 8 {
		t.Errorf("Machines = %d, want CLI override", cfg.Monitor.Machines)
	}
}

func TestLoadLayered_EnvOverridesEmbed(t *testing.T) {
	embedded := []byte("server:\n  addr: \":7000\"\nmonitor:\n  machines: 3")
	t.Setenv("MM_ADDR", ":7100")
	t.Setenv("MM_INTERVAL", "500ms")

	cfg, err := LoadLayered(CLIOverrides{}, embedded, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7100" {
		t.Errorf("Addr = %q, want env override", cfg.Server.Addr)
	}
	if cfg.Monitor.Machines != 3 {
		t.Errorf("Machines = %d, want embedded value", cfg.Monitor.Machines)
	}
	if cfg.Monitor.Interval.Duration != 500*time.Millisecond {
		t.Errorf("Interval = %v, want env override", cfg.Monitor.Interval.Duration)
	}
}

func TestLoadLayered_FileOverridesEmbed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	data := []byte("monitor:\n  history_size: 50\n  interval: 1s\nbaselines:\n  machine-9:\n    temperature: {center: 80, spread: 2}\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLayered(CLIOverrides{}, []byte("monitor:\n  history_size: 10"), path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.HistorySize != 50 {
		t.Errorf("HistorySize = %d, want file value", cfg.Monitor.HistorySize)
	}
	if cfg.Monitor.Interval.Duration != time.Second {
		t.Errorf("Interval = %v, want 1s", cfg.Monitor.Interval.Duration)
	}
	if got := cfg.Baselines["machine-9"].Temperature.Center; got != 80 {
		t.Errorf("machine-9 temperature center = %v, want 80", got)
	}
	if _, ok := cfg.Baselines["machine-0"]; !ok {
		t.Error("default machine-0 baseline was dropped")
	}
}

func TestLoadLayered_DefaultsWhenEmpty(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{}, nil, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.Interval.Duration.Seconds() != 2 {
		t.Errorf("Interval = %v, want 2s default", cfg.Monitor.Interval.Duration)
	}
	if cfg.Monitor.Machines != 5 {
		t.Errorf("Machines = %d, want 5", cfg.Monitor.Machines)
	}
	if cfg.Monitor.HistorySize != 1000 {
		t.Errorf("HistorySize = %d, want 1000", cfg.Monitor.HistorySize)
	}
	if cfg.Monitor.Contamination != 0.01 {
		t.Errorf("Contamination = %v, want 0.01", cfg.Monitor.Contamination)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadLayered_InvalidDuration(t *testing.T) {
	if _, err := LoadLayered(CLIOverrides{}, []byte("monitor:\n  interval: soon"), ""); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no machines", func(c *Config) { c.Monitor.Machines = 0 }},
		{"zero interval", func(c *Config) { c.Monitor.Interval.Duration = 0 }},
		{"zero history", func(c *Config) { c.Monitor.HistorySize = 0 }},
		{"zero contamination", func(c *Config) { c.Monitor.Contamination = 0 }},
		{"large contamination", func(c *Config) { c.Monitor.Contamination = 0.6 }},
		{"no trees", func(c *Config) { c.Monitor.Trees = 0 }},
		{"no addr", func(c *Config) { c.Server.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestMachineIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.Machines = 3
	ids := cfg.MachineIDs()
	want := []string{"machine-0", "machine-1", "machine-2"}
	if len(ids) != len(want) {
		t.Fatalf("len = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestWriteConfig_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "monitor.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9999"

	if err := WriteConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadLayered(CLIOverrides{}, nil, path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Addr != ":9999" {
		t.Errorf("Addr = %q, want round-tripped value", loaded.Server.Addr)
	}
	if loaded.Monitor.Interval.Duration != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", loaded.Monitor.Interval.Duration)
	}
}
