package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// Memory is a mutex-guarded in-memory Sink. It backs tests and local
// experiments; the aggregate math mirrors the SQL sinks.
type Memory struct {
	mu         sync.Mutex
	facilities map[string]model.FacilityRecord
	stats      map[model.CityScope]model.CityStats
	runs       []model.RunRecord
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		facilities: make(map[string]model.FacilityRecord),
		stats:      make(map[model.CityScope]model.CityStats),
	}
}

func (m *Memory) FindByID(ctx context.Context, id string) (*model.FacilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.facilities[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) FindByIDs(ctx context.Context, ids []string) (map[string]model.FacilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.FacilityRecord, len(ids))
	for _, id := range ids {
		if rec, ok := m.facilities[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) UpsertMany(ctx context.Context, records []model.FacilityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		m.facilities[records[i].ID] = records[i]
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, rec model.FacilityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilities[rec.ID] = rec
	return nil
}

func (m *Memory) RefreshCityStats(ctx context.Context, scope []model.CityScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scoped := make(map[model.CityScope]bool, len(scope))
	for _, sc := range scope {
		scoped[sc] = true
	}

	type acc struct {
		count, residential int
		scoreSum           float64
		latSum, lonSum     float64
		coordCount         int
	}
	accs := make(map[model.CityScope]*acc)
	for _, rec := range m.facilities {
		sc := model.CityScope{State: rec.State, City: rec.City}
		if len(scoped) > 0 && !scoped[sc] {
			continue
		}
		a, ok := accs[sc]
		if !ok {
			a = &acc{}
			accs[sc] = a
		}
		a.count++
		if rec.IsResidential {
			a.residential++
		}
		a.scoreSum += rec.QualityScore
		if rec.HasCoordinates() {
			a.latSum += *rec.Latitude
			a.lonSum += *rec.Longitude
			a.coordCount++
		}
	}

	if len(scoped) == 0 {
		m.stats = make(map[model.CityScope]model.CityStats)
	} else {
		for sc := range scoped {
			delete(m.stats, sc)
		}
	}

	now := time.Now().UTC()
	for sc, a := range accs {
		cs := model.CityStats{
			State:            sc.State,
			City:             sc.City,
			FacilityCount:    a.count,
			ResidentialCount: a.residential,
			AvgQualityScore:  a.scoreSum / float64(a.count),
			UpdatedAt:        now,
		}
		if a.coordCount > 0 {
			lat := a.latSum / float64(a.coordCount)
			lon := a.lonSum / float64(a.coordCount)
			cs.CentroidLat = &lat
			cs.CentroidLon = &lon
		}
		m.stats[sc] = cs
	}
	return nil
}

func (m *Memory) CityStats(ctx context.Context, state, city string) ([]model.CityStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CityStats
	for sc, cs := range m.stats {
		if state != "" && sc.State != state {
			continue
		}
		if city != "" && sc.City != city {
			continue
		}
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return out[i].City < out[j].City
	})
	return out, nil
}

func (m *Memory) StartRun(ctx context.Context, run *model.RunContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, model.RunRecord{
		ID:        run.ID,
		Source:    run.Source,
		Status:    model.RunStatusPending,
		StartedAt: run.StartedAt,
	})
	return nil
}

func (m *Memory) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			m.runs[i].Status = status
		}
	}
	return nil
}

func (m *Memory) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.LoadReport, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			m.runs[i].Status = status
			m.runs[i].CompletedAt = &now
			m.runs[i].Report = report
			m.runs[i].Error = errMsg
		}
	}
	return nil
}

func (m *Memory) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }
func (m *Memory) Ping(ctx context.Context) error    { return nil }
func (m *Memory) Close() error                      { return nil }

// Count returns the number of stored facilities.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.facilities)
}
