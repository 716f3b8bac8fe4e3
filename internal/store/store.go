// Package store holds the rolling per-machine reading history.
// Each machine owns a fixed-capacity ring; appending to a full ring evicts
// the oldest reading. The set of machines is fixed at construction.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

var (
	// ErrUnknownMachine is returned for machine ids outside the configured set.
	ErrUnknownMachine = errors.New("unknown machine")

	// ErrNoData is returned by Latest when a machine has no readings yet.
	ErrNoData = errors.New("no data")
)

// DefaultCapacity is the number of readings retained per machine.
const DefaultCapacity = 1000

// Store maps machine ids to their reading series. All methods are safe for
// concurrent use; reads return copies and never observe a partial append.
type Store struct {
	series map[string]*series
	ids    []string
}

// New creates a Store for the given machine ids, each retaining at most
// capacity readings. A non-positive capacity selects DefaultCapacity.
func New(machineIDs []string, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{series: make(map[string]*series, len(machineIDs))}
	for _, id := range machineIDs {
		if _, dup := s.series[id]; dup {
			continue
		}
		s.series[id] = newSeries(capacity)
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)
	return s
}

// MachineIDs returns the known machine ids in sorted order.
func (s *Store) MachineIDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Has reports whether machineID is a known machine.
func (s *Store) Has(machineID string) bool {
	_, ok := s.series[machineID]
	return ok
}

// Append adds r to its machine's series, evicting the oldest reading when
// the series is full.
func (s *Store) Append(machineID string, r models.Reading) error {
	ser, err := s.get(machineID)
	if err != nil {
		return err
	}
	ser.mu.Lock()
	ser.push(r)
	ser.mu.Unlock()
	return nil
}

// AppendNew produces a reading with produce and appends it while holding the
// series lock, so that append order matches generation (and timestamp) order
// even with several concurrent producers.
func (s *Store) AppendNew(machineID string, produce func() models.Reading) (models.Reading, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return models.Reading{}, err
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	r := produce()
	ser.push(r)
	return r, nil
}

// EnsureNonEmpty appends count produced readings if the machine has none.
// The emptiness check and the burst happen under one lock, so concurrent
// callers fill a series at most once. Returns the number of readings added.
func (s *Store) EnsureNonEmpty(machineID string, count int, produce func() models.Reading) (int, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return 0, err
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	if ser.n > 0 {
		return 0, nil
	}
	for i := 0; i < count; i++ {
		ser.push(produce())
	}
	return count, nil
}

// Latest returns the most recently appended reading.
func (s *Store) Latest(machineID string) (models.Reading, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return models.Reading{}, err
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	if ser.n == 0 {
		return models.Reading{}, fmt.Errorf("latest %s: %w", machineID, ErrNoData)
	}
	return ser.at(ser.n - 1), nil
}

// Recent returns the last min(limit, len) readings in chronological order.
func (s *Store) Recent(machineID string, limit int) ([]models.Reading, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return nil, err
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	if limit > ser.n {
		limit = ser.n
	}
	if limit < 0 {
		limit = 0
	}
	return ser.slice(ser.n-limit, ser.n), nil
}

// Snapshot returns a copy of the machine's full series.
func (s *Store) Snapshot(machineID string) ([]models.Reading, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return nil, err
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return ser.slice(0, ser.n), nil
}

// Range returns readings with start <= timestamp <= end in chronological
// order. A zero start or end leaves that side unbounded.
func (s *Store) Range(machineID string, start, end time.Time) ([]models.Reading, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return nil, err
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()

	lo, hi := 0, ser.n
	if !start.IsZero() {
		lo = sort.Search(ser.n, func(i int) bool { return !ser.at(i).Timestamp.Before(start) })
	}
	if !end.IsZero() {
		hi = sort.Search(ser.n, func(i int) bool { return ser.at(i).Timestamp.After(end) })
	}
	if lo >= hi {
		return []models.Reading{}, nil
	}
	return ser.slice(lo, hi), nil
}

// Len returns the number of readings held for machineID.
func (s *Store) Len(machineID string) (int, error) {
	ser, err := s.get(machineID)
	if err != nil {
		return 0, err
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return ser.n, nil
}

func (s *Store) get(machineID string) (*series, error) {
	ser, ok := s.series[machineID]
	if !ok {
		return nil, fmt.Errorf("machine %q: %w", machineID, ErrUnknownMachine)
	}
	return ser, nil
}

// series is a fixed-capacity ring of readings in append order.
type series struct {
	mu    sync.RWMutex
	buf   []models.Reading
	start int
	n     int
}

func newSeries(capacity int) *series {
	return &series{buf: make([]models.Reading, capacity)}
}

// push appends r, overwriting the oldest entry when full.
// Must be called with mu held for writing.
func (s *series) push(r models.Reading) {
	if s.n < len(s.buf) {
		s.buf[(s.start+s.n)%len(s.buf)] = r
		s.n++
		return
	}
	s.buf[s.start] = r
	s.start = (s.start + 1) % len(s.buf)
}

// at returns the i-th oldest reading. Must be called with mu held.
func (s *series) at(i int) models.Reading {
	return s.buf[(s.start+i)%len(s.buf)]
}

// slice copies readings [lo, hi) in chronological order. Must be called with mu held.
func (s *series) slice(lo, hi int) []models.Reading {
	out := make([]models.Reading, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, s.at(i))
	}
	return out
}
