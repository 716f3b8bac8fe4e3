package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/analysis"
	"github.com/Guliveer/vitalis/monitor/internal/generator"
	"github.com/Guliveer/vitalis/monitor/internal/models"
	"github.com/Guliveer/vitalis/monitor/internal/scheduler"
	"github.com/Guliveer/vitalis/monitor/internal/store"
)

var testIDs = []string{"machine-0", "machine-1", "machine-2"}

func newTestServer(t *testing.T) (*Server, *store.Store, *httptest.Server) {
	t.Helper()
	st := store.New(testIDs, store.DefaultCapacity)
	gen := generator.New(generator.Baselines{Default: models.BaselineProfile{
		Temperature: models.MetricBaseline{Center: 50, Spread: 15},
		CPUUsage:    models.MetricBaseline{Center: 50, Spread: 25},
		MemoryUsage: models.MetricBaseline{Center: 50, Spread: 20},
	}}, 42)
	sched := scheduler.New(st, gen, nil, time.Hour, zap.NewNop())
	engine := analysis.New(analysis.DefaultOptions(), zap.NewNop())

	s := New(st, sched, engine, nil, Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		StreamInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, st, ts
}

func get(t *testing.T, ts *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func length(t *testing.T, st *store.Store, id string) int {
	t.Helper()
	n, err := st.Len(id)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestMachines(t *testing.T) {
	_, _, ts := newTestServer(t)

	var ids []string
	if code := get(t, ts, "/machines", &ids); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if strings.Join(ids, ",") != strings.Join(testIDs, ",") {
		t.Errorf("ids = %v, want %v", ids, testIDs)
	}
}

func TestLatestSynthesizesSingleReading(t *testing.T) {
	_, st, ts := newTestServer(t)

	var r models.Reading
	if code := get(t, ts, "/machine/machine-0/metrics", &r); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if r.MachineID != "machine-0" || r.HumanTimestamp == "" {
		t.Errorf("reading = %+v", r)
	}
	if n := length(t, st, "machine-0"); n != 1 {
		t.Errorf("stored readings = %d, want 1", n)
	}

	// A second read must not synthesize again.
	get(t, ts, "/machine/machine-0/metrics", &r)
	if n := length(t, st, "machine-0"); n != 1 {
		t.Errorf("stored readings after second read = %d, want 1", n)
	}
}

func TestLatestUnknownMachine(t *testing.T) {
	_, _, ts := newTestServer(t)

	var body errorBody
	if code := get(t, ts, "/machine/machine-9/metrics", &body); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body.Detail != "Machine machine-9 not found" {
		t.Errorf("detail = %q", body.Detail)
	}
}

func TestHistory(t *testing.T) {
	_, st, ts := newTestServer(t)

	var readings []models.Reading
	if code := get(t, ts, "/machine/machine-1/history?limit=3", &readings); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(readings) != 3 {
		t.Errorf("len = %d, want 3", len(readings))
	}
	if n := length(t, st, "machine-1"); n != seriesBurst {
		t.Errorf("stored readings = %d, want %d", n, seriesBurst)
	}
	for i := 1; i < len(readings); i++ {
		if readings[i].Timestamp.Before(readings[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}

	get(t, ts, "/machine/machine-1/history", &readings)
	if len(readings) != seriesBurst {
		t.Errorf("default limit returned %d readings, want %d", len(readings), seriesBurst)
	}
}

func TestHistoryInvalidLimit(t *testing.T) {
	_, _, ts := newTestServer(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		if code := get(t, ts, "/machine/machine-0/history?limit="+limit, nil); code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, code)
		}
	}
}

func TestMachineAnalysis(t *testing.T) {
	_, st, ts := newTestServer(t)

	var report models.AnalysisReport
	if code := get(t, ts, "/machine/machine-2/analysis", &report); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if report.AnomalyDetection.TotalRecords != seriesBurst {
		t.Errorf("total_records = %d, want %d", report.AnomalyDetection.TotalRecords, seriesBurst)
	}
	for _, m := range models.Metrics {
		if report.StatisticalSummary[m] == nil {
			t.Errorf("missing summary for %s", m)
		}
		if _, ok := report.TrendPrediction[m]; !ok {
			t.Errorf("missing trend for %s", m)
		}
	}
	if n := length(t, st, "machine-2"); n != seriesBurst {
		t.Errorf("stored readings = %d", n)
	}
}

func TestMachineAnalysisAliases(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/machines/machine-0/analysis", "machine-0"},
		{"/machines/1/analysis", "machine-1"},
		// machine-3 does not exist, so the one-based reading wins.
		{"/machine/3/analysis", "machine-2"},
		// machine--1 and machine--2 do not exist.
		{"/machine/-1/analysis", "machine-0"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, st, ts := newTestServer(t)
			if code := get(t, ts, tt.path, nil); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			for _, id := range testIDs {
				n := length(t, st, id)
				if id == tt.want && n != seriesBurst {
					t.Errorf("%s has %d readings, want %d", id, n, seriesBurst)
				}
				if id != tt.want && n != 0 {
					t.Errorf("%s has %d readings, want 0", id, n)
				}
			}
		})
	}
}

func TestMachineAnalysisUnresolvable(t *testing.T) {
	_, _, ts := newTestServer(t)

	for _, path := range []string{"/machine/abc/analysis", "/machines/7/analysis"} {
		if code := get(t, ts, path, nil); code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, code)
		}
	}
}

func seed(t *testing.T, st *store.Store, id string, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := models.NewReading(id, 50+float64(i%3), 40+float64(i%5), 60+float64(i%4), base.Add(time.Duration(i)*time.Second))
		if err := st.Append(id, r); err != nil {
			t.Fatal(err)
		}
	}
}

func rangeParams(ids []string, start, end time.Time) string {
	v := url.Values{}
	for _, id := range ids {
		v.Add("machine_ids", id)
	}
	if !start.IsZero() {
		v.Set("start_time", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		v.Set("end_time", end.Format(time.RFC3339))
	}
	return v.Encode()
}

func TestAnalysisFiltersRange(t *testing.T) {
	_, st, ts := newTestServer(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, "machine-0", base, 30)

	q := rangeParams([]string{"machine-0", "machine-1"}, base.Add(10*time.Second), base.Add(19*time.Second))
	var results map[string]models.AnalysisReport
	if code := get(t, ts, "/analysis?"+q, &results); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if _, ok := results["machine-1"]; ok {
		t.Error("machine-1 has no readings in range and should be skipped")
	}
	report, ok := results["machine-0"]
	if !ok {
		t.Fatal("missing machine-0 report")
	}
	if report.AnomalyDetection.TotalRecords != 10 {
		t.Errorf("total_records = %d, want 10", report.AnomalyDetection.TotalRecords)
	}
	if n := length(t, st, "machine-1"); n != 0 {
		t.Errorf("range analysis synthesized %d readings", n)
	}
}

func TestAnalysisUnknownMachines(t *testing.T) {
	_, _, ts := newTestServer(t)

	var body errorBody
	q := rangeParams([]string{"machine-0", "machine-7", "nope"}, time.Time{}, time.Time{})
	if code := get(t, ts, "/analysis?"+q, &body); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if !strings.Contains(body.Detail, "machine-7") || !strings.Contains(body.Detail, "nope") {
		t.Errorf("detail = %q", body.Detail)
	}
}

func TestRangeQueryValidation(t *testing.T) {
	_, _, ts := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"bad start", "machine_ids=machine-0&start_time=yesterday"},
		{"inverted", "machine_ids=machine-0&start_time=2024-01-02T00:00:00Z&end_time=2024-01-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := get(t, ts, "/metrics/range?"+tt.query, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}
}

func TestRangeDefaultsToAllMachines(t *testing.T) {
	_, st, ts := newTestServer(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range testIDs {
		seed(t, st, id, base, 4)
	}

	var readings []models.Reading
	if code := get(t, ts, "/metrics/range", &readings); code != http.StatusOK {
		t.Fatalf("range status = %d", code)
	}
	if len(readings) != 4*len(testIDs) {
		t.Errorf("range len = %d, want %d", len(readings), 4*len(testIDs))
	}

	var results map[string]models.AnalysisReport
	if code := get(t, ts, "/analysis", &results); code != http.StatusOK {
		t.Fatalf("analysis status = %d", code)
	}
	for _, id := range testIDs {
		if results[id].AnomalyDetection.TotalRecords != 4 {
			t.Errorf("%s total_records = %d, want 4", id, results[id].AnomalyDetection.TotalRecords)
		}
	}
}

func TestMetricsRange(t *testing.T) {
	_, st, ts := newTestServer(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, "machine-0", base, 5)
	seed(t, st, "machine-2", base, 5)

	var readings []models.Reading
	q := "machine_ids=machine-0,machine-2&start_time=2024-01-01T00:00:03Z"
	if code := get(t, ts, "/metrics/range?"+q, &readings); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(readings) != 4 {
		t.Fatalf("len = %d, want 4", len(readings))
	}
	if readings[0].MachineID != "machine-0" || readings[3].MachineID != "machine-2" {
		t.Errorf("unexpected order: %s .. %s", readings[0].MachineID, readings[3].MachineID)
	}
}

func TestCBORResponse(t *testing.T) {
	_, _, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/machine/machine-0/metrics", nil)
	req.Header.Set("Accept", cborContentType)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != cborContentType {
		t.Fatalf("Content-Type = %q", ct)
	}
	var r models.Reading
	if err := cbor.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.MachineID != "machine-0" || r.Timestamp.IsZero() {
		t.Errorf("reading = %+v", r)
	}
}

func TestCORS(t *testing.T) {
	_, _, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/machines", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/machines", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q", got)
	}
}

func TestHostWithoutCollectors(t *testing.T) {
	_, _, ts := newTestServer(t)
	if code := get(t, ts, "/host", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	var health map[string]string
	if code := get(t, ts, "/healthz", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, health)
	}
}
