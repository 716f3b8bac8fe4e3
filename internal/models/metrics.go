// Package models defines the telemetry data structures shared by the store,
// the analysis engine and the API. These structures are serialized to JSON
// (and CBOR) when served to clients.
package models

import (
	"fmt"
	"time"
)

// Metric names a single measured quantity of a machine.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricCPUUsage    Metric = "cpu_usage"
	MetricMemoryUsage Metric = "memory_usage"
)

// Metrics lists every metric in the order used for analysis and reporting.
var Metrics = []Metric{MetricTemperature, MetricCPUUsage, MetricMemoryUsage}

// humanTimeLayout renders timestamps as "2024-01-02 03:04:05 PM".
const humanTimeLayout = "2006-01-02 03:04:05 PM"

// Reading is a single point-in-time sample of one machine's sensors.
// A Reading is never mutated after it is stored.
type Reading struct {
	MachineID      string    `json:"machine_id" cbor:"machine_id"`
	Temperature    float64   `json:"temperature" cbor:"temperature"`
	CPUUsage       float64   `json:"cpu_usage" cbor:"cpu_usage"`
	MemoryUsage    float64   `json:"memory_usage" cbor:"memory_usage"`
	Timestamp      time.Time `json:"timestamp" cbor:"timestamp"`
	HumanTimestamp string    `json:"human_timestamp" cbor:"human_timestamp"`
}

// NewReading builds a Reading stamped at ts.
func NewReading(machineID string, temperature, cpu, memory float64, ts time.Time) Reading {
	return Reading{
		MachineID:      machineID,
		Temperature:    temperature,
		CPUUsage:       cpu,
		MemoryUsage:    memory,
		Timestamp:      ts,
		HumanTimestamp: ts.Format(humanTimeLayout),
	}
}

// Value returns the reading's value for metric m.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricCPUUsage:
		return r.CPUUsage
	case MetricMemoryUsage:
		return r.MemoryUsage
	}
	return 0
}

// FormatTimestamp renders the reading's timestamp either as an absolute
// human-readable time or, when relative is set, as an age relative to now
// ("just now", "5 minutes ago", "1 day ago").
func (r Reading) FormatTimestamp(now time.Time, relative bool) string {
	if !relative {
		return r.Timestamp.Format(humanTimeLayout)
	}

	diff := now.Sub(r.Timestamp)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return ago(int(diff/time.Minute), "minute")
	case diff < 24*time.Hour:
		return ago(int(diff/time.Hour), "hour")
	default:
		return ago(int(diff/(24*time.Hour)), "day")
	}
}

func ago(n int, unit string) string {
	if n > 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

// MetricBaseline is the center and spread used to synthesize one metric.
type MetricBaseline struct {
	Center float64 `yaml:"center" json:"center"`
	Spread float64 `yaml:"spread" json:"spread"`
}

// BaselineProfile holds the per-metric baselines for one machine.
type BaselineProfile struct {
	Temperature MetricBaseline `yaml:"temperature" json:"temperature"`
	CPUUsage    MetricBaseline `yaml:"cpu_usage" json:"cpu_usage"`
	MemoryUsage MetricBaseline `yaml:"memory_usage" json:"memory_usage"`
}
