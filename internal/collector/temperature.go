// CPU temperature collector: gathers the hottest matching thermal sensor.
// Uses gopsutil host sensors; reports nil when no CPU sensor is exposed,
// which is common inside containers and VMs.

package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// Sensor name substrings used to identify CPU temperature sensors across platforms.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

const (
	minValidTemp = 0.0
	// Readings above this are likely sensor errors.
	maxValidTemp = 150.0
)

// TemperatureCollector collects the host CPU temperature in °C.
type TemperatureCollector struct {
	logger *zap.Logger
}

// NewTemperatureCollector creates a new temperature collector.
// Pass nil for no logging.
func NewTemperatureCollector(logger *zap.Logger) *TemperatureCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureCollector{logger: logger}
}

// Name returns the collector identifier.
func (c *TemperatureCollector) Name() string { return "temperature" }

// Collect returns a *float64 holding the maximum CPU sensor reading, or nil.
func (c *TemperatureCollector) Collect(ctx context.Context) (any, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// gopsutil returns partial results alongside warnings
		c.logger.Debug("Temperature sensors not fully available", zap.Error(err))
	}
	return maxCPUTemperature(temps), nil
}

// IsAvailable returns true. Hosts without sensors yield a nil reading instead.
func (c *TemperatureCollector) IsAvailable() bool { return true }

func maxCPUTemperature(temps []host.TemperatureStat) *float64 {
	var max float64
	found := false
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		if !matchesSensor(strings.ToLower(t.SensorKey), cpuSensorKeys) {
			continue
		}
		if !found || t.Temperature > max {
			max = t.Temperature
			found = true
		}
	}
	if !found {
		return nil
	}
	return &max
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
