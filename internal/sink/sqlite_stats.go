package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// cityAccumulator collects the per-city rollup while scanning facilities.
type cityAccumulator struct {
	scope       model.CityScope
	count       int
	residential int
	scoreSum    float64
	coords      []float64 // flat XY pairs (lon, lat) for centroid
}

// RefreshCityStats recomputes per-city aggregates. Counts and score
// averages come from SQL; the centroid is computed in Go from the valid
// coordinate pairs.
func (s *SQLiteSink) RefreshCityStats(ctx context.Context, scope []model.CityScope) error {
	accs, err := s.accumulate(ctx, scope)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin stats tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if len(scope) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM city_stats`); err != nil {
			return eris.Wrap(err, "sqlite: clear city stats")
		}
	} else {
		for _, sc := range scope {
			if _, err := tx.ExecContext(ctx, `DELETE FROM city_stats WHERE state = ? AND city = ?`, sc.State, sc.City); err != nil {
				return eris.Wrapf(err, "sqlite: clear city stats for %s/%s", sc.State, sc.City)
			}
		}
	}

	now := time.Now().UTC()
	for _, acc := range accs {
		var lat, lon any
		if len(acc.coords) > 0 {
			mp := geom.NewMultiPointFlat(geom.XY, acc.coords)
			centroid, err := xy.Centroid(mp)
			if err != nil {
				return eris.Wrapf(err, "sqlite: centroid for %s/%s", acc.scope.State, acc.scope.City)
			}
			lon, lat = centroid.X(), centroid.Y()
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO city_stats
			 (state, city, facility_count, residential_count, avg_quality_score, centroid_lat, centroid_lon, updated_at)
			 VALUES (?,?,?,?,?,?,?,?)`,
			acc.scope.State, acc.scope.City, acc.count, acc.residential,
			acc.scoreSum/float64(acc.count), lat, lon, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert city stats for %s/%s", acc.scope.State, acc.scope.City)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit city stats")
}

func (s *SQLiteSink) accumulate(ctx context.Context, scope []model.CityScope) ([]*cityAccumulator, error) {
	query := `SELECT state, city, is_residential, quality_score, latitude, longitude FROM facilities`
	var args []any
	if len(scope) > 0 {
		query += ` WHERE (state, city) IN (VALUES `
		for i, sc := range scope {
			if i > 0 {
				query += `,`
			}
			query += `(?,?)`
			args = append(args, sc.State, sc.City)
		}
		query += `)`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan facilities for stats")
	}
	defer rows.Close()

	byScope := make(map[model.CityScope]*cityAccumulator)
	var order []model.CityScope
	for rows.Next() {
		var sc model.CityScope
		var residential bool
		var score float64
		var lat, lon *float64
		if err := rows.Scan(&sc.State, &sc.City, &residential, &score, &lat, &lon); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats row")
		}

		acc, ok := byScope[sc]
		if !ok {
			acc = &cityAccumulator{scope: sc}
			byScope[sc] = acc
			order = append(order, sc)
		}
		acc.count++
		if residential {
			acc.residential++
		}
		acc.scoreSum += score
		if lat != nil && lon != nil {
			acc.coords = append(acc.coords, *lon, *lat)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate stats rows")
	}

	out := make([]*cityAccumulator, 0, len(order))
	for _, sc := range order {
		out = append(out, byScope[sc])
	}
	return out, nil
}

// CityStats returns aggregates, optionally filtered by state and city.
func (s *SQLiteSink) CityStats(ctx context.Context, state, city string) ([]model.CityStats, error) {
	query := `SELECT state, city, facility_count, residential_count, avg_quality_score,
	                 centroid_lat, centroid_lon, updated_at
	          FROM city_stats`
	var args []any
	switch {
	case state != "" && city != "":
		query += ` WHERE state = ? AND city = ?`
		args = []any{state, city}
	case state != "":
		query += ` WHERE state = ?`
		args = []any{state}
	}
	query += ` ORDER BY state, city`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query city stats")
	}
	defer rows.Close()

	var out []model.CityStats
	for rows.Next() {
		var cs model.CityStats
		if err := rows.Scan(
			&cs.State, &cs.City, &cs.FacilityCount, &cs.ResidentialCount,
			&cs.AvgQualityScore, &cs.CentroidLat, &cs.CentroidLon, &cs.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city stats row")
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// StartRun records the beginning of a pipeline run.
func (s *SQLiteSink) StartRun(ctx context.Context, run *model.RunContext) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, source, status, started_at) VALUES (?,?,?,?)`,
		run.ID, run.Source, string(model.RunStatusPending), run.StartedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", run.ID)
	}
	return nil
}

// UpdateRunStatus advances the run's state machine.
func (s *SQLiteSink) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ? WHERE id = ?`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s status", runID)
	}
	return nil
}

// CompleteRun records the terminal state and final report for a run.
func (s *SQLiteSink) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.LoadReport, errMsg string) error {
	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal report for run %s", runID)
		}
		reportJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, completed_at = ?, report = ?, error = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), reportJSON, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return nil
}

// ListRuns returns runs ordered by most recent first.
func (s *SQLiteSink) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, report, error
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var status string
		var completedAt sql.NullTime
		var reportJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &status, &r.StartedAt, &completedAt, &reportJSON, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run row")
		}
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if reportJSON.Valid && reportJSON.String != "" {
			var report model.LoadReport
			if err := json.Unmarshal([]byte(reportJSON.String), &report); err == nil {
				r.Report = &report
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
