package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/recovery-atlas/facility-etl/internal/db"
	"github.com/recovery-atlas/facility-etl/internal/model"
)

// PostgresSink implements Sink using pgxpool.
type PostgresSink struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresSink with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresSink, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresSink{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool, closeFn: func() {}}
}

// Pool returns the underlying database pool.
func (s *PostgresSink) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS etl;

CREATE TABLE IF NOT EXISTS etl.facilities (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	street           TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL,
	state            TEXT NOT NULL,
	zip              TEXT NOT NULL DEFAULT '',
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	geo_bucket       TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	website          TEXT NOT NULL DEFAULT '',
	services         JSONB NOT NULL DEFAULT '[]',
	services_display JSONB NOT NULL DEFAULT '[]',
	is_residential   BOOLEAN NOT NULL DEFAULT false,
	source_data      JSONB,
	metadata         JSONB,
	quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified         BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facilities_state_city ON etl.facilities(state, city);
CREATE INDEX IF NOT EXISTS idx_facilities_geo_bucket ON etl.facilities(geo_bucket) WHERE geo_bucket <> '';

CREATE TABLE IF NOT EXISTS etl.city_stats (
	state             TEXT NOT NULL,
	city              TEXT NOT NULL,
	facility_count    INTEGER NOT NULL,
	residential_count INTEGER NOT NULL,
	avg_quality_score DOUBLE PRECISION NOT NULL,
	centroid_lat      DOUBLE PRECISION,
	centroid_lon      DOUBLE PRECISION,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (state, city)
);

CREATE TABLE IF NOT EXISTS etl.pipeline_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	report       JSONB,
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON etl.pipeline_runs(started_at DESC);
`

// migrationLockID guards concurrent migrations from multiple processes.
const migrationLockID = 872034150

// Migrate creates the etl schema under an advisory lock.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		_, _ = s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSink) Close() error {
	s.closeFn()
	return nil
}

var facilityColumns = []string{
	"id", "name", "street", "city", "state", "zip",
	"latitude", "longitude", "geo_bucket",
	"phone", "website",
	"services", "services_display", "is_residential",
	"source_data", "metadata",
	"quality_score", "verified",
	"created_at", "last_updated",
}

const facilitySelect = `SELECT id, name, street, city, state, zip,
	latitude, longitude, geo_bucket, phone, website,
	services, services_display, is_residential, source_data, metadata,
	quality_score, verified, created_at, last_updated
	FROM etl.facilities`

// FindByID returns the stored record, or nil if absent.
func (s *PostgresSink) FindByID(ctx context.Context, id string) (*model.FacilityRecord, error) {
	rows, err := s.pool.Query(ctx, facilitySelect+" WHERE id = $1", id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find facility %s", id)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanFacility(rows)
	if err != nil {
		return nil, err
	}
	return &rec, rows.Err()
}

// FindByIDs returns the stored records for the given ids, keyed by id.
// Missing ids are simply absent from the map.
func (s *PostgresSink) FindByIDs(ctx context.Context, ids []string) (map[string]model.FacilityRecord, error) {
	if len(ids) == 0 {
		return map[string]model.FacilityRecord{}, nil
	}

	rows, err := s.pool.Query(ctx, facilitySelect+" WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find facilities by ids")
	}
	defer rows.Close()

	out := make(map[string]model.FacilityRecord, len(ids))
	for rows.Next() {
		rec, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// UpsertMany applies one chunk atomically via temp-table COPY + INSERT ON
// CONFLICT. created_at is excluded from the update set so the original
// insert time survives merges.
func (s *PostgresSink) UpsertMany(ctx context.Context, records []model.FacilityRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for i := range records {
		row, err := facilityRow(&records[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	updateCols := make([]string, 0, len(facilityColumns)-2)
	for _, c := range facilityColumns {
		if c != "id" && c != "created_at" {
			updateCols = append(updateCols, c)
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "etl.facilities",
		Columns:      facilityColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   updateCols,
	}, rows)
	return err
}

const facilityUpsertSQL = `INSERT INTO etl.facilities
	(id, name, street, city, state, zip, latitude, longitude, geo_bucket,
	 phone, website, services, services_display, is_residential,
	 source_data, metadata, quality_score, verified, created_at, last_updated)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	ON CONFLICT (id) DO UPDATE SET
	 name = EXCLUDED.name, street = EXCLUDED.street, city = EXCLUDED.city,
	 state = EXCLUDED.state, zip = EXCLUDED.zip,
	 latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
	 geo_bucket = EXCLUDED.geo_bucket, phone = EXCLUDED.phone,
	 website = EXCLUDED.website, services = EXCLUDED.services,
	 services_display = EXCLUDED.services_display,
	 is_residential = EXCLUDED.is_residential,
	 source_data = EXCLUDED.source_data, metadata = EXCLUDED.metadata,
	 quality_score = EXCLUDED.quality_score, verified = EXCLUDED.verified,
	 last_updated = EXCLUDED.last_updated`

// Upsert writes one record. The loader uses it to isolate failures inside
// a chunk.
func (s *PostgresSink) Upsert(ctx context.Context, rec model.FacilityRecord) error {
	row, err := facilityRow(&rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, facilityUpsertSQL, row...); err != nil {
		return eris.Wrapf(err, "postgres: upsert facility %s", rec.ID)
	}
	return nil
}

func facilityRow(rec *model.FacilityRecord) ([]any, error) {
	services, err := json.Marshal(orEmpty(rec.Services))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: marshal services for %s", rec.ID)
	}
	display, err := json.Marshal(orEmpty(rec.ServicesDisplay))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: marshal services_display for %s", rec.ID)
	}
	var sourceData, metadata []byte
	if rec.SourceData != nil {
		if sourceData, err = json.Marshal(rec.SourceData); err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal source_data for %s", rec.ID)
		}
	}
	if rec.Metadata != nil {
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal metadata for %s", rec.ID)
		}
	}

	return []any{
		rec.ID, rec.Name, rec.Street, rec.City, rec.State, rec.Zip,
		rec.Latitude, rec.Longitude, rec.GeoBucket,
		rec.Phone, rec.Website,
		services, display, rec.IsResidential,
		sourceData, metadata,
		rec.QualityScore, rec.Verified,
		rec.CreatedAt, rec.LastUpdated,
	}, nil
}

func scanFacility(rows pgx.Rows) (model.FacilityRecord, error) {
	var rec model.FacilityRecord
	var services, display, sourceData, metadata []byte

	if err := rows.Scan(
		&rec.ID, &rec.Name, &rec.Street, &rec.City, &rec.State, &rec.Zip,
		&rec.Latitude, &rec.Longitude, &rec.GeoBucket,
		&rec.Phone, &rec.Website,
		&services, &display, &rec.IsResidential,
		&sourceData, &metadata,
		&rec.QualityScore, &rec.Verified,
		&rec.CreatedAt, &rec.LastUpdated,
	); err != nil {
		return rec, eris.Wrap(err, "postgres: scan facility")
	}

	if len(services) > 0 {
		_ = json.Unmarshal(services, &rec.Services)
	}
	if len(display) > 0 {
		_ = json.Unmarshal(display, &rec.ServicesDisplay)
	}
	if len(sourceData) > 0 {
		_ = json.Unmarshal(sourceData, &rec.SourceData)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &rec.Metadata)
	}
	return rec, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
