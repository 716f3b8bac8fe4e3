// Package collector reports on the host running the monitor itself.
// These are real gopsutil measurements, unlike the synthesized machine
// readings, and back the /host endpoint.
package collector

import "context"

// Collector gathers one kind of host measurement.
type Collector interface {
	// Name is the key the result is stored under.
	Name() string

	// Collect returns the measurement or an error. It must honor ctx.
	Collect(ctx context.Context) (any, error)

	// IsAvailable reports whether the collector can run on this platform.
	IsAvailable() bool
}
