package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// SQLiteSink implements Sink using modernc.org/sqlite. Used for local and
// dev runs where a Postgres instance is not available.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteSink, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteSink{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS facilities (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	street           TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL,
	state            TEXT NOT NULL,
	zip              TEXT NOT NULL DEFAULT '',
	latitude         REAL,
	longitude        REAL,
	geo_bucket       TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	website          TEXT NOT NULL DEFAULT '',
	services         TEXT NOT NULL DEFAULT '[]',
	services_display TEXT NOT NULL DEFAULT '[]',
	is_residential   INTEGER NOT NULL DEFAULT 0,
	source_data      TEXT,
	metadata         TEXT,
	quality_score    REAL NOT NULL DEFAULT 0,
	verified         INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	last_updated     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facilities_state_city ON facilities(state, city);

CREATE TABLE IF NOT EXISTS city_stats (
	state             TEXT NOT NULL,
	city              TEXT NOT NULL,
	facility_count    INTEGER NOT NULL,
	residential_count INTEGER NOT NULL,
	avg_quality_score REAL NOT NULL,
	centroid_lat      REAL,
	centroid_lon      REAL,
	updated_at        DATETIME NOT NULL,
	PRIMARY KEY (state, city)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	report       TEXT,
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
`

func (s *SQLiteSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

const sqliteFacilitySelect = `SELECT id, name, street, city, state, zip,
	latitude, longitude, geo_bucket, phone, website,
	services, services_display, is_residential, source_data, metadata,
	quality_score, verified, created_at, last_updated
	FROM facilities`

// FindByID returns the stored record, or nil if absent.
func (s *SQLiteSink) FindByID(ctx context.Context, id string) (*model.FacilityRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteFacilitySelect+" WHERE id = ?", id)
	rec, err := scanSQLiteFacility(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find facility %s", id)
	}
	return &rec, nil
}

// FindByIDs returns the stored records for the given ids, keyed by id.
func (s *SQLiteSink) FindByIDs(ctx context.Context, ids []string) (map[string]model.FacilityRecord, error) {
	out := make(map[string]model.FacilityRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, sqliteFacilitySelect+" WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find facilities by ids")
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanSQLiteFacility(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan facility")
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

const sqliteFacilityUpsert = `INSERT INTO facilities
	(id, name, street, city, state, zip, latitude, longitude, geo_bucket,
	 phone, website, services, services_display, is_residential,
	 source_data, metadata, quality_score, verified, created_at, last_updated)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
	 name = excluded.name, street = excluded.street, city = excluded.city,
	 state = excluded.state, zip = excluded.zip,
	 latitude = excluded.latitude, longitude = excluded.longitude,
	 geo_bucket = excluded.geo_bucket, phone = excluded.phone,
	 website = excluded.website, services = excluded.services,
	 services_display = excluded.services_display,
	 is_residential = excluded.is_residential,
	 source_data = excluded.source_data, metadata = excluded.metadata,
	 quality_score = excluded.quality_score, verified = excluded.verified,
	 last_updated = excluded.last_updated`

// UpsertMany applies the chunk inside a single transaction.
func (s *SQLiteSink) UpsertMany(ctx context.Context, records []model.FacilityRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteFacilityUpsert)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range records {
		row, err := sqliteFacilityRow(&records[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert facility %s", records[i].ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit chunk")
}

// Upsert writes one record outside a chunk transaction.
func (s *SQLiteSink) Upsert(ctx context.Context, rec model.FacilityRecord) error {
	row, err := sqliteFacilityRow(&rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteFacilityUpsert, row...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert facility %s", rec.ID)
	}
	return nil
}

func sqliteFacilityRow(rec *model.FacilityRecord) ([]any, error) {
	services, err := json.Marshal(orEmpty(rec.Services))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: marshal services for %s", rec.ID)
	}
	display, err := json.Marshal(orEmpty(rec.ServicesDisplay))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: marshal services_display for %s", rec.ID)
	}
	var sourceData, metadata any
	if rec.SourceData != nil {
		b, err := json.Marshal(rec.SourceData)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal source_data for %s", rec.ID)
		}
		sourceData = string(b)
	}
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal metadata for %s", rec.ID)
		}
		metadata = string(b)
	}

	return []any{
		rec.ID, rec.Name, rec.Street, rec.City, rec.State, rec.Zip,
		rec.Latitude, rec.Longitude, rec.GeoBucket,
		rec.Phone, rec.Website,
		string(services), string(display), rec.IsResidential,
		sourceData, metadata,
		rec.QualityScore, rec.Verified,
		rec.CreatedAt.UTC(), rec.LastUpdated.UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFacility(row rowScanner) (model.FacilityRecord, error) {
	var rec model.FacilityRecord
	var services, display string
	var sourceData, metadata sql.NullString
	var createdAt, lastUpdated time.Time

	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.Street, &rec.City, &rec.State, &rec.Zip,
		&rec.Latitude, &rec.Longitude, &rec.GeoBucket,
		&rec.Phone, &rec.Website,
		&services, &display, &rec.IsResidential,
		&sourceData, &metadata,
		&rec.QualityScore, &rec.Verified,
		&createdAt, &lastUpdated,
	); err != nil {
		return rec, err
	}

	rec.CreatedAt = createdAt
	rec.LastUpdated = lastUpdated
	_ = json.Unmarshal([]byte(services), &rec.Services)
	_ = json.Unmarshal([]byte(display), &rec.ServicesDisplay)
	if sourceData.Valid {
		_ = json.Unmarshal([]byte(sourceData.String), &rec.SourceData)
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &rec.Metadata)
	}
	return rec, nil
}
