// Package scheduler implements the tick-based reading generation loop.
// Every interval it generates one reading per machine, appends it to the
// store and forwards the current values to the metrics exporter. The
// scheduler does not publish batches itself; it invokes a callback when a
// tick's batch is ready.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/generator"
	"github.com/Guliveer/vitalis/monitor/internal/models"
	"github.com/Guliveer/vitalis/monitor/internal/store"
)

// GaugeSetter receives the latest value of each metric per machine.
type GaugeSetter interface {
	SetGauge(metric models.Metric, machineID string, value float64)
}

// Scheduler drives periodic reading generation.
type Scheduler struct {
	store    *store.Store
	gen      *generator.Generator
	gauges   GaugeSetter
	interval time.Duration
	logger   *zap.Logger

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex

	onBatchReady func([]models.Reading)
}

// New creates a Scheduler. gauges may be nil when no exporter is wired.
// Pass a nil logger for no logging.
func New(st *store.Store, gen *generator.Generator, gauges GaugeSetter, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    st,
		gen:      gen,
		gauges:   gauges,
		interval: interval,
		logger:   logger,
	}
}

// OnBatchReady sets the callback invoked with the readings of each tick.
func (s *Scheduler) OnBatchReady(fn func([]models.Reading)) {
	s.onBatchReady = fn
}

// Start runs the tick loop. It blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick generates and stores one reading for every machine, then updates the
// exporter gauges and hands the batch to the OnBatchReady callback.
func (s *Scheduler) Tick() []models.Reading {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	ids := s.store.MachineIDs()
	batch := make([]models.Reading, 0, len(ids))
	for _, id := range ids {
		r, err := s.store.AppendNew(id, func() models.Reading { return s.gen.Generate(id) })
		if err != nil {
			s.logger.Error("Append failed", zap.String("machine_id", id), zap.Error(err))
			continue
		}
		s.publishGauges(r)
		batch = append(batch, r)
	}

	s.logger.Debug("Generated readings", zap.Int("machines", len(batch)))

	if s.onBatchReady != nil && len(batch) > 0 {
		s.onBatchReady(batch)
	}
	return batch
}

// Prefill tops every machine up to at least min readings.
func (s *Scheduler) Prefill(min int) {
	for _, id := range s.store.MachineIDs() {
		for {
			n, err := s.store.Len(id)
			if err != nil || n >= min {
				break
			}
			r, err := s.store.AppendNew(id, func() models.Reading { return s.gen.Generate(id) })
			if err != nil {
				break
			}
			s.publishGauges(r)
		}
	}
	s.logger.Info("Prefilled machine history", zap.Int("min_readings", min))
}

// EnsureData synthesizes count readings for machineID if it has none yet.
// It is safe to call concurrently with Tick.
func (s *Scheduler) EnsureData(machineID string, count int) error {
	var last models.Reading
	added, err := s.store.EnsureNonEmpty(machineID, count, func() models.Reading {
		last = s.gen.Generate(machineID)
		return last
	})
	if err != nil {
		return err
	}
	if added > 0 {
		s.publishGauges(last)
		s.logger.Debug("Synthesized readings on demand",
			zap.String("machine_id", machineID),
			zap.Int("count", added))
	}
	return nil
}

func (s *Scheduler) publishGauges(r models.Reading) {
	if s.gauges == nil {
		return
	}
	for _, m := range models.Metrics {
		s.gauges.SetGauge(m, r.MachineID, r.Value(m))
	}
}
