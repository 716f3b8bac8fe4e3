// Package api exposes the telemetry store over HTTP and WebSocket.
//
// Every read of a single machine first makes sure the machine has data:
// reading endpoints synthesize on demand through the scheduler, so a client
// never observes an empty series for a known machine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/analysis"
	"github.com/Guliveer/vitalis/monitor/internal/collector"
	"github.com/Guliveer/vitalis/monitor/internal/models"
	"github.com/Guliveer/vitalis/monitor/internal/store"
)

const (
	// latestBurst is synthesized for an empty machine before returning its latest reading.
	latestBurst = 1
	// seriesBurst is synthesized for an empty machine before history, analysis or streaming.
	seriesBurst = 10

	defaultHistoryLimit = 100
)

// DataFiller synthesizes readings for a machine that has none.
type DataFiller interface {
	EnsureData(machineID string, count int) error
}

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	StreamInterval time.Duration
}

// Server serves the telemetry API.
type Server struct {
	store  *store.Store
	filler DataFiller
	engine *analysis.Engine
	hosts  *collector.Registry
	logger *zap.Logger
	opts   Options

	upgrader websocket.Upgrader

	// done is closed by Close to end open streams.
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	streams sync.WaitGroup
}

// New creates a Server. hosts may be nil, in which case /host reports 503.
func New(st *store.Store, filler DataFiller, engine *analysis.Engine, hosts *collector.Registry, opts Options, logger *zap.Logger) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 2 * time.Second
	}
	s := &Server{
		store:  st,
		filler: filler,
		engine: engine,
		hosts:  hosts,
		logger: logger,
		opts:   opts,
		done:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed API with logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /host", s.handleHost)
	mux.HandleFunc("GET /machines", s.handleMachines)
	mux.HandleFunc("GET /machine/{id}/metrics", s.handleLatest)
	mux.HandleFunc("GET /machine/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /machine/{id}/analysis", s.handleMachineAnalysis)
	mux.HandleFunc("GET /machines/{id}/analysis", s.handleMachineAnalysis)
	mux.HandleFunc("GET /analysis", s.handleAnalysis)
	mux.HandleFunc("GET /metrics/range", s.handleRange)
	mux.HandleFunc("GET /ws/machine/{id}", s.handleStream)

	return logMiddleware(corsMiddleware(mux, s.opts.AllowedOrigins), s.logger)
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully and ends open streams.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends every open stream and waits for the stream goroutines to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	s.streams.Wait()
}

// trackStream registers a new stream. It returns false once Close has run.
func (s *Server) trackStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams.Add(1)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		writeError(w, r, http.StatusServiceUnavailable, "host collectors are not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeResponse(w, r, http.StatusOK, s.hosts.Status(ctx))
}

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, http.StatusOK, s.store.MachineIDs())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.ensure(w, r, id, latestBurst) {
		return
	}
	reading, err := s.store.Latest(id)
	if err != nil {
		s.writeStoreError(w, r, id, err)
		return
	}
	writeResponse(w, r, http.StatusOK, reading)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if !s.ensure(w, r, id, seriesBurst) {
		return
	}
	readings, err := s.store.Recent(id, limit)
	if err != nil {
		s.writeStoreError(w, r, id, err)
		return
	}
	writeResponse(w, r, http.StatusOK, readings)
}

func (s *Server) handleMachineAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveMachineID(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Machine %s not found", r.PathValue("id")))
		return
	}
	if !s.ensure(w, r, id, seriesBurst) {
		return
	}
	readings, err := s.store.Snapshot(id)
	if err != nil {
		s.writeStoreError(w, r, id, err)
		return
	}
	writeResponse(w, r, http.StatusOK, s.engine.Analyze(readings))
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseRangeQuery(w, r)
	if !ok {
		return
	}

	results := make(map[string]models.AnalysisReport, len(q.machineIDs))
	for _, id := range q.machineIDs {
		readings, err := s.store.Range(id, q.start, q.end)
		if err != nil {
			s.writeStoreError(w, r, id, err)
			return
		}
		if len(readings) == 0 {
			continue
		}
		results[id] = s.engine.Analyze(readings)
	}
	writeResponse(w, r, http.StatusOK, results)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseRangeQuery(w, r)
	if !ok {
		return
	}

	out := make([]models.Reading, 0)
	for _, id := range q.machineIDs {
		readings, err := s.store.Range(id, q.start, q.end)
		if err != nil {
			s.writeStoreError(w, r, id, err)
			return
		}
		out = append(out, readings...)
	}
	writeResponse(w, r, http.StatusOK, out)
}

// ensure synthesizes count readings for an empty machine. It writes the
// error response and returns false when the machine is unknown.
func (s *Server) ensure(w http.ResponseWriter, r *http.Request, id string, count int) bool {
	if err := s.filler.EnsureData(id, count); err != nil {
		s.writeStoreError(w, r, id, err)
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownMachine):
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Machine %s not found", id))
	case errors.Is(err, store.ErrNoData):
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("No data for machine %s", id))
	default:
		s.logger.Error("Store request failed", zap.String("machine_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// resolveMachineID maps a client-supplied id onto a known machine. Besides
// exact ids it accepts a bare index n, tried as machine-n, then machine-(n-1)
// for one-based clients, then machine-(n+1).
func (s *Server) resolveMachineID(id string) (string, bool) {
	if s.store.Has(id) {
		return id, true
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return "", false
	}
	for _, candidate := range []int{n, n - 1, n + 1} {
		alias := fmt.Sprintf("machine-%d", candidate)
		if s.store.Has(alias) {
			return alias, true
		}
	}
	return "", false
}

type rangeQuery struct {
	machineIDs []string
	start, end time.Time
}

// parseRangeQuery reads machine_ids, start_time and end_time. No machine_ids
// selects every machine; missing times leave the range open on that side.
func (s *Server) parseRangeQuery(w http.ResponseWriter, r *http.Request) (rangeQuery, bool) {
	values := r.URL.Query()
	var q rangeQuery
	for _, v := range values["machine_ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.machineIDs = append(q.machineIDs, id)
			}
		}
	}
	if len(q.machineIDs) == 0 {
		q.machineIDs = s.store.MachineIDs()
	}

	var unknown []string
	for _, id := range q.machineIDs {
		if !s.store.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Invalid machine IDs: %s", strings.Join(unknown, ", ")))
		return q, false
	}

	var err error
	if q.start, err = parseTime(values.Get("start_time")); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid start_time: %v", err))
		return q, false
	}
	if q.end, err = parseTime(values.Get("end_time")); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid end_time: %v", err))
		return q, false
	}
	if !q.start.IsZero() && !q.end.IsZero() && q.end.Before(q.start) {
		writeError(w, r, http.StatusBadRequest, "end_time is before start_time")
		return q, false
	}
	return q, true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
