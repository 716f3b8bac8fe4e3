// Package exporter publishes the latest machine readings as Prometheus gauges
// and serves them over HTTP for scraping.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

// Exporter holds one gauge vector per metric, labelled by machine_id.
type Exporter struct {
	gauges   map[models.Metric]*prometheus.GaugeVec
	gatherer prometheus.Gatherer
}

// New registers the machine gauges on reg. Pass prometheus.NewRegistry()
// in tests to keep the default registry untouched.
func New(reg *prometheus.Registry) (*Exporter, error) {
	e := &Exporter{
		gauges: map[models.Metric]*prometheus.GaugeVec{
			models.MetricTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "machine_temperature",
				Help: "Temperature of the machine",
			}, []string{"machine_id"}),
			models.MetricCPUUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "machine_cpu_usage",
				Help: "CPU usage of the machine",
			}, []string{"machine_id"}),
			models.MetricMemoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "machine_memory_usage",
				Help: "Memory usage of the machine",
			}, []string{"machine_id"}),
		},
		gatherer: reg,
	}
	for _, g := range e.gauges {
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("registering gauge: %w", err)
		}
	}
	return e, nil
}

// SetGauge sets metric for machineID. Unknown metrics are ignored.
func (e *Exporter) SetGauge(metric models.Metric, machineID string, value float64) {
	if g, ok := e.gauges[metric]; ok {
		g.WithLabelValues(machineID).Set(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// maxPortAttempts bounds the search for a free metrics port.
const maxPortAttempts = 10

// Listen binds addr, or the next free port after it when addr is taken,
// trying at most maxPortAttempts ports.
func Listen(addr string) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics port: %w", err)
	}
	if port == 0 {
		return net.Listen("tcp", addr)
	}

	var lastErr error
	for p := port; p < port+maxPortAttempts; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port between %d and %d: %w", port, port+maxPortAttempts-1, lastErr)
}

// Serve exposes /metrics on ln until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, ln net.Listener, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics exporter listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
