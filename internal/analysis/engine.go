// Package analysis runs statistical analysis over a snapshot of one
// machine's readings: ensemble outlier detection confirmed by a 3-sigma
// filter, descriptive statistics and least-squares trend classification.
// The engine holds no mutable state; every call is independent.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

// ErrNumerical is wrapped by detection errors caused by input the model
// cannot score, such as non-finite values.
var ErrNumerical = errors.New("numerical failure")

const (
	// sigmaThreshold is the deviation, in sample standard deviations, a
	// flagged point must exceed on at least one metric to be reported.
	sigmaThreshold = 3.0

	// stableSlope is the absolute per-sample slope below which a metric is stable.
	stableSlope = 0.1
)

// Options configures the anomaly model.
type Options struct {
	// Contamination is the expected fraction of outliers, in (0, 0.5].
	Contamination float64
	Trees         int
	Seed          int64
}

// DefaultOptions returns 1% contamination, 100 trees and seed 42.
func DefaultOptions() Options {
	return Options{Contamination: 0.01, Trees: 100, Seed: 42}
}

// Engine analyzes reading snapshots.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// New creates an Engine. Zero option fields fall back to DefaultOptions.
// Pass a nil logger for no logging.
func New(opts Options, logger *zap.Logger) *Engine {
	def := DefaultOptions()
	if opts.Contamination <= 0 {
		opts.Contamination = def.Contamination
	}
	if opts.Trees <= 0 {
		opts.Trees = def.Trees
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger}
}

// Analyze runs every analysis over readings. A detection failure is
// reported inside the anomaly section and does not affect the others.
func (e *Engine) Analyze(readings []models.Reading) models.AnalysisReport {
	anomalies, err := e.DetectAnomalies(readings)
	if err != nil {
		e.logger.Warn("Anomaly detection failed",
			zap.Int("records", len(readings)),
			zap.Error(err))
	}
	return models.AnalysisReport{
		AnomalyDetection:   anomalies,
		StatisticalSummary: e.Summary(readings),
		TrendPrediction:    e.Trend(readings),
	}
}

// DetectAnomalies flags readings that the isolation forest marks as outliers
// and that also deviate by more than three standard deviations from the
// sample mean on at least one metric.
//
// On failure the returned report is still well formed: it carries the
// record count, no anomalies and the error message, and the error wraps
// ErrNumerical.
func (e *Engine) DetectAnomalies(readings []models.Reading) (models.AnomalyReport, error) {
	report := models.AnomalyReport{
		TotalRecords: len(readings),
		Anomalies:    []models.Reading{},
	}
	if len(readings) < 2 {
		return report, nil
	}

	points := make([][]float64, len(readings))
	for i, r := range readings {
		row := make([]float64, len(models.Metrics))
		for j, m := range models.Metrics {
			v := r.Value(m)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err := fmt.Errorf("record %d %s=%v: %w", i, m, v, ErrNumerical)
				report.Error = err.Error()
				return report, err
			}
			row[j] = v
		}
		points[i] = row
	}

	forest := fitForest(points, e.opts.Trees, e.opts.Seed)
	flagged := forest.outliers(points, e.opts.Contamination)

	means := make([]float64, len(models.Metrics))
	stds := make([]float64, len(models.Metrics))
	for j, m := range models.Metrics {
		col := column(readings, m)
		s := summarize(col)
		means[j], stds[j] = s.Mean, s.Std
	}

	for i, isOutlier := range flagged {
		if !isOutlier {
			continue
		}
		for j := range models.Metrics {
			if math.Abs(points[i][j]-means[j]) > sigmaThreshold*stds[j] {
				report.Anomalies = append(report.Anomalies, readings[i])
				break
			}
		}
	}

	report.AnomalyCount = len(report.Anomalies)
	report.AnomalyPercentage = float64(report.AnomalyCount) / float64(report.TotalRecords) * 100
	return report, nil
}

// Summary computes mean, median, sample standard deviation, min and max of
// every metric. With no readings every metric maps to an empty summary.
func (e *Engine) Summary(readings []models.Reading) models.Summary {
	out := make(models.Summary, len(models.Metrics))
	for _, m := range models.Metrics {
		if len(readings) == 0 {
			out[m] = nil
			continue
		}
		out[m] = summarize(column(readings, m))
	}
	return out
}

// Trend classifies each metric as increasing, decreasing or stable from the
// least-squares slope over sample index, after ordering by timestamp.
// Fewer than two readings yield insufficient_data for every metric.
func (e *Engine) Trend(readings []models.Reading) models.TrendReport {
	out := make(models.TrendReport, len(models.Metrics))
	if len(readings) < 2 {
		for _, m := range models.Metrics {
			out[m] = models.TrendInsufficientData
		}
		return out
	}

	sorted := append([]models.Reading(nil), readings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for _, m := range models.Metrics {
		out[m] = classify(slope(column(sorted, m)))
	}
	return out
}

func classify(slope float64) models.Trend {
	switch {
	case math.Abs(slope) < stableSlope:
		return models.TrendStable
	case slope > 0:
		return models.TrendIncreasing
	default:
		return models.TrendDecreasing
	}
}
