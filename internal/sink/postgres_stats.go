package sink

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// cityStatsUpsertSQL recomputes one scope's aggregates from the facilities
// table in a single statement. The centroid is the mean of rows that carry
// both coordinates.
const cityStatsUpsertSQL = `INSERT INTO etl.city_stats
	(state, city, facility_count, residential_count, avg_quality_score, centroid_lat, centroid_lon, updated_at)
	SELECT state, city,
	       COUNT(*),
	       COUNT(*) FILTER (WHERE is_residential),
	       COALESCE(AVG(quality_score), 0),
	       AVG(latitude) FILTER (WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
	       AVG(longitude) FILTER (WHERE latitude IS NOT NULL AND longitude IS NOT NULL),
	       now()
	FROM etl.facilities`

const cityStatsConflictSQL = ` GROUP BY state, city
	ON CONFLICT (state, city) DO UPDATE SET
	 facility_count = EXCLUDED.facility_count,
	 residential_count = EXCLUDED.residential_count,
	 avg_quality_score = EXCLUDED.avg_quality_score,
	 centroid_lat = EXCLUDED.centroid_lat,
	 centroid_lon = EXCLUDED.centroid_lon,
	 updated_at = EXCLUDED.updated_at`

// RefreshCityStats recomputes per-city aggregates. With an empty scope it
// refreshes every city and prunes stats for cities that no longer have
// facilities; with a scope it touches only those cities, so it is safe to
// run concurrently with loads of unrelated scopes.
func (s *PostgresSink) RefreshCityStats(ctx context.Context, scope []model.CityScope) error {
	if len(scope) == 0 {
		if _, err := s.pool.Exec(ctx, cityStatsUpsertSQL+cityStatsConflictSQL); err != nil {
			return eris.Wrap(err, "postgres: refresh city stats")
		}
		_, err := s.pool.Exec(ctx,
			`DELETE FROM etl.city_stats cs
			 WHERE NOT EXISTS (
				SELECT 1 FROM etl.facilities f WHERE f.state = cs.state AND f.city = cs.city
			 )`)
		if err != nil {
			return eris.Wrap(err, "postgres: prune city stats")
		}
		return nil
	}

	for _, sc := range scope {
		sql := cityStatsUpsertSQL + " WHERE state = $1 AND city = $2" + cityStatsConflictSQL
		if _, err := s.pool.Exec(ctx, sql, sc.State, sc.City); err != nil {
			return eris.Wrapf(err, "postgres: refresh city stats for %s/%s", sc.State, sc.City)
		}
	}
	return nil
}

// CityStats returns aggregates, optionally filtered by state and city.
func (s *PostgresSink) CityStats(ctx context.Context, state, city string) ([]model.CityStats, error) {
	sql := `SELECT state, city, facility_count, residential_count, avg_quality_score,
	               centroid_lat, centroid_lon, updated_at
	        FROM etl.city_stats`
	var args []any
	switch {
	case state != "" && city != "":
		sql += " WHERE state = $1 AND city = $2"
		args = []any{state, city}
	case state != "":
		sql += " WHERE state = $1"
		args = []any{state}
	}
	sql += " ORDER BY state, city"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query city stats")
	}
	defer rows.Close()

	var out []model.CityStats
	for rows.Next() {
		var cs model.CityStats
		if err := rows.Scan(
			&cs.State, &cs.City, &cs.FacilityCount, &cs.ResidentialCount,
			&cs.AvgQualityScore, &cs.CentroidLat, &cs.CentroidLon, &cs.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan city stats row")
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// StartRun records the beginning of a pipeline run.
func (s *PostgresSink) StartRun(ctx context.Context, run *model.RunContext) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO etl.pipeline_runs (id, source, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		run.ID, run.Source, string(model.RunStatusPending), run.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", run.ID)
	}
	return nil
}

// UpdateRunStatus advances the run's state machine.
func (s *PostgresSink) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE etl.pipeline_runs SET status = $1 WHERE id = $2`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s status", runID)
	}
	return nil
}

// CompleteRun records the terminal state and final report for a run.
func (s *PostgresSink) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.LoadReport, errMsg string) error {
	var reportJSON []byte
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal report for run %s", runID)
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE etl.pipeline_runs
		 SET status = $1, completed_at = now(), report = $2, error = $3
		 WHERE id = $4`,
		string(status), reportJSON, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return nil
}

// ListRuns returns runs ordered by most recent first.
func (s *PostgresSink) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, report, error
		 FROM etl.pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var status string
		var reportJSON []byte
		if err := rows.Scan(&r.ID, &r.Source, &status, &r.StartedAt, &r.CompletedAt, &reportJSON, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run row")
		}
		r.Status = model.RunStatus(status)
		if len(reportJSON) > 0 {
			var report model.LoadReport
			if err := json.Unmarshal(reportJSON, &report); err == nil {
				r.Report = &report
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
