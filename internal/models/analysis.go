package models

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

// Trend classifies the direction of a metric over a series.
type Trend string

const (
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// AnomalyReport is the outcome of anomaly detection over one series.
// Error is set only when the detector failed and the report is partial.
type AnomalyReport struct {
	TotalRecords      int       `json:"total_records" cbor:"total_records"`
	AnomalyCount      int       `json:"anomaly_count" cbor:"anomaly_count"`
	AnomalyPercentage float64   `json:"anomaly_percentage" cbor:"anomaly_percentage"`
	Anomalies         []Reading `json:"anomalies" cbor:"anomalies"`
	Error             string    `json:"error,omitempty" cbor:"error,omitempty"`
}

// MetricSummary holds descriptive statistics for one metric. A nil
// *MetricSummary serializes as an empty object.
type MetricSummary struct {
	Mean   float64 `json:"mean" cbor:"mean"`
	Median float64 `json:"median" cbor:"median"`
	Std    float64 `json:"std" cbor:"std"`
	Min    float64 `json:"min" cbor:"min"`
	Max    float64 `json:"max" cbor:"max"`
}

// Summary maps each metric to its statistics.
type Summary map[Metric]*MetricSummary

// MarshalJSON renders metrics without statistics as {} rather than null.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := make(map[Metric]any, len(s))
	for m, stats := range s {
		if stats == nil {
			out[m] = struct{}{}
			continue
		}
		out[m] = stats
	}
	return json.Marshal(out)
}

// MarshalCBOR mirrors MarshalJSON so both encodings agree on empty summaries.
func (s Summary) MarshalCBOR() ([]byte, error) {
	out := make(map[Metric]any, len(s))
	for m, stats := range s {
		if stats == nil {
			out[m] = map[string]float64{}
			continue
		}
		out[m] = stats
	}
	return cbor.Marshal(out)
}

// TrendReport maps each metric to its trend classification.
type TrendReport map[Metric]Trend

// AnalysisReport bundles every analysis run over one machine's series.
type AnalysisReport struct {
	AnomalyDetection   AnomalyReport `json:"anomaly_detection" cbor:"anomaly_detection"`
	StatisticalSummary Summary       `json:"statistical_summary" cbor:"statistical_summary"`
	TrendPrediction    TrendReport   `json:"trend_prediction" cbor:"trend_prediction"`
}
