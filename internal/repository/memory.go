package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	domrepo "GridCast/internal/domain/repository"
)

// The memory stores back the `memory` storage backend and tests. Model
// parameters are JSON round-tripped so callers observe the same decoding as
// with ClickHouse.

type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[int64]models.TrainingRecord
	aux     map[string]map[string]float64
}

var _ domrepo.RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[int64]models.TrainingRecord),
		aux:     make(map[string]map[string]float64),
	}
}

func (s *MemoryRecordStore) ListRecords(_ context.Context, from, to time.Time) ([]models.TrainingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TrainingRecord, 0, len(s.records))
	for _, r := range s.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryRecordStore) ListAuxSeries(_ context.Context, from, to time.Time) ([]models.DailySeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := from.UTC().Format(models.DateLayout)
	hi := to.UTC().Format(models.DateLayout)
	out := make([]models.DailySeries, 0, len(s.aux))
	for name, days := range s.aux {
		series := models.DailySeries{Name: name, Values: make(map[string]float64)}
		for d, v := range days {
			if d >= lo && d < hi {
				series.Values[d] = v
			}
		}
		out = append(out, series)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendRecords replaces records with the same timestamp, matching the
// ReplacingMergeTree semantics of the ClickHouse table.
func (s *MemoryRecordStore) AppendRecords(_ context.Context, records []models.TrainingRecord) (models.BatchReport, error) {
	accepted, report := ValidateRecords(records)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range accepted {
		s.records[r.Timestamp.Unix()] = r
	}
	return report, nil
}

func (s *MemoryRecordStore) AppendAuxSeries(_ context.Context, series models.DailySeries) error {
	if series.Name == "" {
		return fmt.Errorf("aux series name is required")
	}
	for d, v := range series.Values {
		if !models.IsFinite(v) {
			return fmt.Errorf("aux series %s: non-finite value on %s", series.Name, d)
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return fmt.Errorf("aux series %s: %w", series.Name, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.aux[series.Name]
	if !ok {
		days = make(map[string]float64, len(series.Values))
		s.aux[series.Name] = days
	}
	for d, v := range series.Values {
		days[d] = v
	}
	return nil
}

type MemoryModelStore struct {
	mu     sync.RWMutex
	rows   [][]byte
	byID   map[string]int
	active *models.ActivePointer
}

var _ domrepo.ModelStore = (*MemoryModelStore)(nil)

func NewMemoryModelStore() *MemoryModelStore {
	return &MemoryModelStore{byID: make(map[string]int)}
}

func (s *MemoryModelStore) Save(_ context.Context, p *models.ModelParameters) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("save model: missing id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", p.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[p.ID]; dup {
		return fmt.Errorf("save model: duplicate id %s", p.ID)
	}
	s.byID[p.ID] = len(s.rows)
	s.rows = append(s.rows, b)
	return nil
}

func (s *MemoryModelStore) Get(_ context.Context, id string) (*models.ModelParameters, error) {
	s.mu.RLock()
	i, ok := s.byID[id]
	var b []byte
	if ok {
		b = s.rows[i]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %s: %w", id, models.ErrNotFound)
	}
	return decodeModel(string(b))
}

func (s *MemoryModelStore) ListByVersion(_ context.Context, version string) ([]*models.ModelParameters, error) {
	s.mu.RLock()
	rows := append([][]byte(nil), s.rows...)
	s.mu.RUnlock()

	var out []*models.ModelParameters
	for _, b := range rows {
		p, err := decodeModel(string(b))
		if err != nil {
			return nil, err
		}
		if p.Version == version {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryModelStore) SetActive(_ context.Context, ptr models.ActivePointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &ptr
	return nil
}

func (s *MemoryModelStore) Active(_ context.Context) (models.ActivePointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.ActivePointer{}, models.ErrNoActiveModel
	}
	return *s.active, nil
}

type MemoryTrialStore struct {
	mu     sync.RWMutex
	trials map[string][]models.HyperparameterTrial
	best   map[string]string
}

var _ domrepo.TrialStore = (*MemoryTrialStore)(nil)

func NewMemoryTrialStore() *MemoryTrialStore {
	return &MemoryTrialStore{
		trials: make(map[string][]models.HyperparameterTrial),
		best:   make(map[string]string),
	}
}

func (s *MemoryTrialStore) Append(_ context.Context, trials []models.HyperparameterTrial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trials {
		// IsBest is derived from the pointer on read.
		t.IsBest = false
		s.trials[t.ModelVersion] = append(s.trials[t.ModelVersion], t)
	}
	return nil
}

func (s *MemoryTrialStore) List(_ context.Context, version string, limit int) ([]models.HyperparameterTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.HyperparameterTrial(nil), s.trials[version]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TrialNumber < out[j].TrialNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	best := s.best[version]
	for i := range out {
		out[i].IsBest = out[i].ID == best
	}
	return out, nil
}

func (s *MemoryTrialStore) Count(_ context.Context, version string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trials[version]), nil
}

func (s *MemoryTrialStore) SetBest(_ context.Context, version, trialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trials[version] {
		if t.ID == trialID {
			s.best[version] = trialID
			return nil
		}
	}
	return fmt.Errorf("trial %s in %s: %w", trialID, version, models.ErrNotFound)
}

func (s *MemoryTrialStore) Best(_ context.Context, version string) (*models.HyperparameterTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.best[version]
	if !ok {
		return nil, fmt.Errorf("best trial for %s: %w", version, models.ErrNotFound)
	}
	for _, t := range s.trials[version] {
		if t.ID == id {
			t.IsBest = true
			return &t, nil
		}
	}
	return nil, fmt.Errorf("trial %s: %w", id, models.ErrNotFound)
}

type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps []models.PerformanceSnapshot
}

var _ domrepo.SnapshotStore = (*MemorySnapshotStore)(nil)

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Append(_ context.Context, snaps []models.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snaps...)
	return nil
}

func (s *MemorySnapshotStore) List(_ context.Context, f domrepo.SnapshotFilter) ([]models.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PerformanceSnapshot
	for _, sn := range s.snaps {
		if f.ModelVersion != "" && sn.ModelVersion != f.ModelVersion {
			continue
		}
		if f.ModelType != "" && sn.ModelType != f.ModelType {
			continue
		}
		if f.Split != "" && sn.Split != f.Split {
			continue
		}
		if !f.Since.IsZero() && sn.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, sn)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
