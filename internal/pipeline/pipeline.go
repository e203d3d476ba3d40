// Package pipeline orchestrates one ETL run: extract, normalize, score,
// dedupe, geo-enrich, load, and refresh aggregates, advancing the run
// state machine as it goes.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/recovery-atlas/facility-etl/internal/dedupe"
	"github.com/recovery-atlas/facility-etl/internal/extract"
	"github.com/recovery-atlas/facility-etl/internal/geoenrich"
	"github.com/recovery-atlas/facility-etl/internal/loader"
	"github.com/recovery-atlas/facility-etl/internal/model"
	"github.com/recovery-atlas/facility-etl/internal/normalize"
	"github.com/recovery-atlas/facility-etl/internal/quality"
	"github.com/recovery-atlas/facility-etl/internal/resilience"
	"github.com/recovery-atlas/facility-etl/internal/sink"
)

// Pipeline runs the full import flow against one sink. It is safe to run
// concurrently for different runs; all per-run state lives in the
// RunContext and local variables.
type Pipeline struct {
	Sink  sink.Sink
	Retry resilience.RetryConfig
}

// Result is the outcome of one run.
type Result struct {
	Run    *model.RunContext
	Status model.RunStatus
	Report model.LoadReport
}

// Run executes the pipeline for one source. Record-level problems are
// collected in the report and never returned as an error; the error is
// non-nil only when the run as a whole failed or was cancelled, and the
// partial Result is still valid in that case.
func (p *Pipeline) Run(ctx context.Context, run *model.RunContext, src extract.Source) (Result, error) {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("source", run.Source),
		zap.Bool("dry_run", run.DryRun),
	)

	res := Result{Run: run, Status: model.RunStatusPending}

	if err := p.Sink.StartRun(ctx, run); err != nil {
		return res, eris.Wrap(err, "pipeline: record run start")
	}

	log.Info("run started")

	// Extract.
	p.transition(ctx, run, &res.Status, model.RunStatusExtracting)
	raws, err := p.extract(ctx, src)
	if err != nil {
		return p.finish(ctx, log, res, err)
	}
	log.Info("extraction complete", zap.Int("raw_records", len(raws)))

	// Transform: normalize, score, dedupe, enrich. All pure and in-memory;
	// a record that fails normalization is reported, not fatal.
	p.transition(ctx, run, &res.Status, model.RunStatusTransforming)
	format := normalize.SourceFormat(run.Format)
	if format == "" {
		format = normalize.FormatCSV
	}
	records := p.transform(ctx, format, raws, &res.Report, log)
	if ctx.Err() != nil {
		return p.finish(ctx, log, res, ctx.Err())
	}
	log.Info("transform complete",
		zap.Int("canonical_records", len(records)),
		zap.Int("rejected", res.Report.Failed),
	)

	// Load.
	p.transition(ctx, run, &res.Status, model.RunStatusLoading)
	ld := &loader.Loader{
		Sink:      p.Sink,
		BatchSize: run.BatchSize,
		Workers:   run.Workers,
		Retry:     p.Retry,
	}
	loadReport, err := ld.Load(ctx, records)
	res.Report.Merge(loadReport)
	if err != nil {
		return p.finish(ctx, log, res, err)
	}

	// Refresh aggregates for the cities this run touched.
	p.transition(ctx, run, &res.Status, model.RunStatusRefreshing)
	if err := p.Sink.RefreshCityStats(ctx, loader.Scopes(records)); err != nil {
		return p.finish(ctx, log, res, eris.Wrap(err, "pipeline: refresh city stats"))
	}

	return p.finish(ctx, log, res, nil)
}

// extract drains the source into memory. Any source error aborts the run;
// there is no way to resume a half-read stream safely.
func (p *Pipeline) extract(ctx context.Context, src extract.Source) ([]model.RawRecord, error) {
	rowCh, errCh := src.Records(ctx)

	var raws []model.RawRecord
	for raw := range rowCh {
		raws = append(raws, raw)
	}
	if err := <-errCh; err != nil {
		return nil, resilience.NewFatalError(eris.Wrapf(err, "pipeline: extract from %s", src.Name()))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return raws, nil
}

// transform maps raw records to canonical ones. Rejected records are
// counted as processed and failed so the report accounts for every input
// row.
func (p *Pipeline) transform(ctx context.Context, format normalize.SourceFormat, raws []model.RawRecord, report *model.LoadReport, log *zap.Logger) []model.FacilityRecord {
	records := make([]model.FacilityRecord, 0, len(raws))
	for _, raw := range raws {
		if ctx.Err() != nil {
			return records
		}

		rec, err := normalize.Record(raw, format)
		if err != nil {
			report.Processed++
			report.Failed++
			report.Errors = append(report.Errors, model.RecordError{
				Name:   raw.String("name", "name1", "facility_name"),
				Reason: err.Error(),
			})
			log.Warn("record rejected", zap.Error(err))
			continue
		}

		geoenrich.Enrich(&rec)
		quality.Rescore(&rec)
		records = append(records, rec)
	}

	return dedupe.Collapse(records)
}

// transition advances the run state machine, persisting the new status.
// A failed status write is logged but does not abort the run; the run log
// is bookkeeping, not a gate.
func (p *Pipeline) transition(ctx context.Context, run *model.RunContext, cur *model.RunStatus, next model.RunStatus) {
	if cur.Terminal() {
		return
	}
	*cur = next
	if err := p.Sink.UpdateRunStatus(ctx, run.ID, next); err != nil {
		zap.L().Warn("run status update failed",
			zap.String("run_id", run.ID),
			zap.String("status", string(next)),
			zap.Error(err),
		)
	}
}

// finish resolves the terminal status, persists the final report, and
// returns the result. A cancelled context takes precedence over other
// errors; a nil error means the run completed (possibly with partial
// record failures, which still exit cleanly).
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, res Result, runErr error) (Result, error) {
	var errMsg string
	switch {
	case ctx.Err() != nil:
		res.Status = model.RunStatusCancelled
		if runErr == nil {
			runErr = ctx.Err()
		}
		errMsg = runErr.Error()
	case runErr != nil:
		res.Status = model.RunStatusFailed
		errMsg = runErr.Error()
	default:
		res.Status = model.RunStatusCompleted
	}

	// Persist with a fresh context so a cancelled run still records its
	// terminal state.
	done := context.WithoutCancel(ctx)
	if err := p.Sink.CompleteRun(done, res.Run.ID, res.Status, &res.Report, errMsg); err != nil {
		log.Warn("run completion write failed", zap.Error(err))
	}

	log.Info("run finished",
		zap.String("status", string(res.Status)),
		zap.Int("processed", res.Report.Processed),
		zap.Int("created", res.Report.Created),
		zap.Int("updated", res.Report.Updated),
		zap.Int("failed", res.Report.Failed),
	)

	return res, runErr
}
