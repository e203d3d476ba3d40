package sink

import (
	"context"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// DryRun wraps a sink so that a run produces a full LoadReport without
// writing anything. Reads pass through to the inner sink when one is
// configured, so created/updated counts reflect what a real run would do;
// with no inner sink every record counts as a create.
type DryRun struct {
	Inner Sink
}

func (d *DryRun) FindByID(ctx context.Context, id string) (*model.FacilityRecord, error) {
	if d.Inner == nil {
		return nil, nil
	}
	return d.Inner.FindByID(ctx, id)
}

func (d *DryRun) FindByIDs(ctx context.Context, ids []string) (map[string]model.FacilityRecord, error) {
	if d.Inner == nil {
		return map[string]model.FacilityRecord{}, nil
	}
	return d.Inner.FindByIDs(ctx, ids)
}

func (d *DryRun) UpsertMany(ctx context.Context, records []model.FacilityRecord) error {
	return nil
}

func (d *DryRun) Upsert(ctx context.Context, record model.FacilityRecord) error {
	return nil
}

func (d *DryRun) RefreshCityStats(ctx context.Context, scope []model.CityScope) error {
	return nil
}

func (d *DryRun) CityStats(ctx context.Context, state, city string) ([]model.CityStats, error) {
	if d.Inner == nil {
		return nil, nil
	}
	return d.Inner.CityStats(ctx, state, city)
}

func (d *DryRun) StartRun(ctx context.Context, run *model.RunContext) error {
	return nil
}

func (d *DryRun) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return nil
}

func (d *DryRun) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.LoadReport, errMsg string) error {
	return nil
}

func (d *DryRun) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if d.Inner == nil {
		return nil, nil
	}
	return d.Inner.ListRuns(ctx, limit)
}

func (d *DryRun) Migrate(ctx context.Context) error {
	return nil
}

func (d *DryRun) Ping(ctx context.Context) error {
	if d.Inner == nil {
		return nil
	}
	return d.Inner.Ping(ctx)
}

func (d *DryRun) Close() error {
	return nil
}
