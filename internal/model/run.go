package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusPending      RunStatus = "pending"
	RunStatusExtracting   RunStatus = "extracting"
	RunStatusTransforming RunStatus = "transforming"
	RunStatusLoading      RunStatus = "loading"
	RunStatusRefreshing   RunStatus = "refreshing"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunContext carries per-run state through each stage call. It is threaded
// explicitly so that concurrent runs cannot interfere through shared
// globals.
type RunContext struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Format    string    `json:"format,omitempty"`
	DryRun    bool      `json:"dry_run"`
	BatchSize int       `json:"batch_size"`
	Workers   int       `json:"workers"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunContext creates a RunContext with a fresh run ID.
func NewRunContext(source string) *RunContext {
	return &RunContext{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
}

// RecordError describes a single record that could not be normalized or
// loaded. The pipeline collects these instead of aborting.
type RecordError struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// LoadReport is the structured outcome of one Batch Loader invocation.
// Counters are merged across chunk workers with addition, errors with
// concatenation, so the merge is associative and order-independent.
type LoadReport struct {
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// Merge folds another report into r.
func (r *LoadReport) Merge(other LoadReport) {
	r.Processed += other.Processed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Partial reports whether the run committed some records but not all.
func (r *LoadReport) Partial() bool {
	return r.Failed > 0 && r.Failed < r.Processed
}

// RunRecord is a pipeline run as persisted in the run log.
type RunRecord struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Report      *LoadReport `json:"report,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// CityScope identifies one state+city aggregation bucket.
type CityScope struct {
	State string `json:"state"`
	City  string `json:"city"`
}

// CityStats holds the derived per-city aggregates recomputed after a load.
type CityStats struct {
	State            string    `json:"state"`
	City             string    `json:"city"`
	FacilityCount    int       `json:"facility_count"`
	ResidentialCount int       `json:"residential_count"`
	AvgQualityScore  float64   `json:"avg_quality_score"`
	CentroidLat      *float64  `json:"centroid_lat,omitempty"`
	CentroidLon      *float64  `json:"centroid_lon,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
