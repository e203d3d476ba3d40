// Package sink persists facility records, per-city aggregates, and the
// pipeline run log. Two drivers are provided: Postgres (pgx) and SQLite
// (modernc). The pipeline only sees this interface.
package sink

import (
	"context"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// Sink defines the persistence interface for the ETL pipeline.
type Sink interface {
	// Facilities
	FindByID(ctx context.Context, id string) (*model.FacilityRecord, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]model.FacilityRecord, error)
	// UpsertMany applies one chunk as an atomic unit.
	UpsertMany(ctx context.Context, records []model.FacilityRecord) error
	// Upsert writes a single record; the loader falls back to it row by row
	// to isolate a failing record inside a chunk.
	Upsert(ctx context.Context, record model.FacilityRecord) error

	// Aggregates
	RefreshCityStats(ctx context.Context, scope []model.CityScope) error
	CityStats(ctx context.Context, state, city string) ([]model.CityStats, error)

	// Run log
	StartRun(ctx context.Context, run *model.RunContext) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.LoadReport, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
