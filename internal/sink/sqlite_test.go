package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

func f64(v float64) *float64 { return &v }

func newTestSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "etl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sqliteTestRecord(id, name, city string) model.FacilityRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return model.FacilityRecord{
		ID: id, Name: name, City: city, State: "NV",
		Services:        []string{"residential"},
		ServicesDisplay: []string{"Residential"},
		IsResidential:   true,
		Metadata:        map[string]any{"source_format": "csv"},
		QualityScore:    0.8,
		CreatedAt:       now,
		LastUpdated:     now,
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := sqliteTestRecord("abc", "Hope House", "Reno")
	rec.Latitude, rec.Longitude = f64(39.52), f64(-119.81)
	rec.GeoBucket = "39.5:-119.9"
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.FindByID(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hope House", got.Name)
	assert.Equal(t, []string{"residential"}, got.Services)
	assert.True(t, got.IsResidential)
	assert.Equal(t, "39.5:-119.9", got.GeoBucket)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 39.52, *got.Latitude, 1e-9)
	assert.Equal(t, "csv", got.Metadata["source_format"])

	missing, err := s.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteUpsertMany_AndFindByIDs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	records := []model.FacilityRecord{
		sqliteTestRecord("a", "Hope House", "Reno"),
		sqliteTestRecord("b", "New Dawn", "Sparks"),
	}
	require.NoError(t, s.UpsertMany(ctx, records))

	out, err := s.FindByIDs(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "Hope House", out["a"].Name)

	// Second upsert of the same ids updates in place.
	records[0].Phone = "(775) 555-0100"
	require.NoError(t, s.UpsertMany(ctx, records))
	got, err := s.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "(775) 555-0100", got.Phone)
}

func TestSQLiteRefreshCityStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := sqliteTestRecord("a", "Hope House", "Reno")
	a.Latitude, a.Longitude = f64(39.0), f64(-119.0)
	a.QualityScore = 0.6
	b := sqliteTestRecord("b", "New Dawn", "Reno")
	b.Latitude, b.Longitude = f64(40.0), f64(-120.0)
	b.QualityScore = 0.8
	b.IsResidential = false
	b.Services = []string{"detox"}
	c := sqliteTestRecord("c", "Other", "Sparks")
	c.QualityScore = 1.0

	require.NoError(t, s.UpsertMany(ctx, []model.FacilityRecord{a, b, c}))
	require.NoError(t, s.RefreshCityStats(ctx, nil))

	stats, err := s.CityStats(ctx, "NV", "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	reno := stats[0]
	assert.Equal(t, "Reno", reno.City)
	assert.Equal(t, 2, reno.FacilityCount)
	assert.Equal(t, 1, reno.ResidentialCount)
	assert.InDelta(t, 0.7, reno.AvgQualityScore, 1e-9)
	require.NotNil(t, reno.CentroidLat)
	assert.InDelta(t, 39.5, *reno.CentroidLat, 1e-9)
	assert.InDelta(t, -119.5, *reno.CentroidLon, 1e-9)

	// Sparks has no coordinates, so no centroid.
	sparks := stats[1]
	assert.Equal(t, 1, sparks.FacilityCount)
	assert.Nil(t, sparks.CentroidLat)
}

func TestSQLiteRefreshCityStats_Scoped(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMany(ctx, []model.FacilityRecord{
		sqliteTestRecord("a", "Hope House", "Reno"),
		sqliteTestRecord("b", "Other", "Sparks"),
	}))

	scope := []model.CityScope{{State: "NV", City: "Reno"}}
	require.NoError(t, s.RefreshCityStats(ctx, scope))

	stats, err := s.CityStats(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Reno", stats[0].City)
}

func TestSQLiteRunLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run := model.NewRunContext("file:test.csv")
	require.NoError(t, s.StartRun(ctx, run))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusLoading))

	report := &model.LoadReport{Processed: 10, Created: 8, Failed: 2}
	require.NoError(t, s.CompleteRun(ctx, run.ID, model.RunStatusCompleted, report, ""))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)
	require.NotNil(t, runs[0].Report)
	assert.Equal(t, 8, runs[0].Report.Created)
}
