// Package loader upserts canonical facility records into the sink in
// bounded-size chunks with per-record failure isolation.
package loader

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recovery-atlas/facility-etl/internal/model"
	"github.com/recovery-atlas/facility-etl/internal/quality"
	"github.com/recovery-atlas/facility-etl/internal/resilience"
	"github.com/recovery-atlas/facility-etl/internal/sink"
)

// DefaultBatchSize is the chunk size when none is configured.
const DefaultBatchSize = 500

// Loader writes records to the sink. Chunks may be processed in parallel;
// input records are already deduplicated per run, so a given id lands in
// exactly one chunk and two chunks never write overlapping ids.
type Loader struct {
	Sink      sink.Sink
	BatchSize int
	Workers   int
	Retry     resilience.RetryConfig

	// Now is injected for tests; defaults to time.Now.
	Now func() time.Time
}

// plannedWrite is one record's fate within a chunk, decided before any
// write happens.
type plannedWrite struct {
	rec      model.FacilityRecord
	isCreate bool
}

// Load partitions records into chunks and applies each as one unit.
// Record-level failures are collected in the report, never propagated; the
// returned error is non-nil only for unrecoverable conditions (sink
// unreachable, cancellation).
func (l *Loader) Load(ctx context.Context, records []model.FacilityRecord) (model.LoadReport, error) {
	var report model.LoadReport
	if len(records) == 0 {
		return report, nil
	}

	// An unreachable sink is fatal up front, before any chunk work.
	if err := resilience.Do(ctx, l.retryConfig(), func(ctx context.Context) error {
		return l.Sink.Ping(ctx)
	}); err != nil {
		return report, resilience.NewFatalError(eris.Wrap(err, "loader: sink unreachable"))
	}

	chunks := partition(records, l.batchSize())
	results := make([]model.LoadReport, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers())

	for i, chunk := range chunks {
		g.Go(func() error {
			// Cooperative cancellation is checked between chunks, not
			// mid-chunk; committed chunks stay committed.
			if gctx.Err() != nil {
				return nil
			}
			results[i] = l.loadChunk(gctx, i, chunk)
			return nil
		})
	}

	_ = g.Wait()

	// Counter addition and error concatenation are order-independent, but
	// merging in chunk order keeps the error list deterministic.
	for _, r := range results {
		report.Merge(r)
	}

	if ctx.Err() != nil {
		return report, eris.Wrap(ctx.Err(), "loader: run cancelled")
	}
	return report, nil
}

// loadChunk plans and applies one chunk. The chunk is first attempted as a
// single atomic upsert; on failure it is retried row by row so one bad
// record cannot take down its neighbors.
func (l *Loader) loadChunk(ctx context.Context, idx int, chunk []model.FacilityRecord) model.LoadReport {
	log := zap.L().With(zap.String("component", "loader"), zap.Int("chunk", idx))
	report := model.LoadReport{Processed: len(chunk)}

	writes, noops, err := l.planChunk(ctx, chunk)
	if err != nil {
		// The whole chunk failed before any write: report every record.
		report.Failed = len(chunk)
		for i := range chunk {
			report.Errors = append(report.Errors, model.RecordError{
				ID:     chunk[i].ID,
				Name:   chunk[i].Name,
				Reason: err.Error(),
			})
			log.Error("record failed",
				zap.String("id", chunk[i].ID),
				zap.String("reason", err.Error()),
			)
		}
		return report
	}

	if len(writes) == 0 {
		log.Info("chunk is a no-op", zap.Int("records", len(chunk)), zap.Int("unchanged", noops))
		return report
	}

	batch := make([]model.FacilityRecord, len(writes))
	for i, w := range writes {
		batch[i] = w.rec
	}

	err = resilience.Do(ctx, l.retryConfig(), func(ctx context.Context) error {
		return l.Sink.UpsertMany(ctx, batch)
	})
	if err == nil {
		for _, w := range writes {
			if w.isCreate {
				report.Created++
			} else {
				report.Updated++
			}
		}
		log.Info("chunk committed",
			zap.Int("records", len(chunk)),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("unchanged", noops),
		)
		return report
	}

	log.Warn("chunk upsert failed, isolating row by row", zap.Error(err))

	for _, w := range writes {
		rowErr := resilience.Do(ctx, l.retryConfig(), func(ctx context.Context) error {
			return l.Sink.Upsert(ctx, w.rec)
		})
		if rowErr != nil {
			report.Failed++
			report.Errors = append(report.Errors, model.RecordError{
				ID:     w.rec.ID,
				Name:   w.rec.Name,
				Reason: rowErr.Error(),
			})
			log.Error("record failed",
				zap.String("id", w.rec.ID),
				zap.String("reason", rowErr.Error()),
			)
			continue
		}
		if w.isCreate {
			report.Created++
		} else {
			report.Updated++
		}
	}

	return report
}

// planChunk fetches the chunk's existing rows and decides, per record,
// whether it is a create, a real update, or a no-op. Merging follows the
// most-complete-wins rule; quality scores are recomputed on the merge
// result, never carried over stale.
func (l *Loader) planChunk(ctx context.Context, chunk []model.FacilityRecord) (writes []plannedWrite, noops int, err error) {
	ids := make([]string, len(chunk))
	for i := range chunk {
		ids[i] = chunk[i].ID
	}

	existing, err := resilience.DoVal(ctx, l.retryConfig(), func(ctx context.Context) (map[string]model.FacilityRecord, error) {
		return l.Sink.FindByIDs(ctx, ids)
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "loader: fetch existing records")
	}

	now := l.now()
	for i := range chunk {
		incoming := chunk[i]
		quality.Rescore(&incoming)

		prev, found := existing[incoming.ID]
		if !found {
			incoming.CreatedAt = now
			incoming.LastUpdated = now
			writes = append(writes, plannedWrite{rec: incoming, isCreate: true})
			continue
		}

		merged := model.Merge(prev, incoming)
		quality.Rescore(&merged)

		if model.Equal(merged, prev) && merged.QualityScore == prev.QualityScore {
			noops++
			continue
		}

		merged.CreatedAt = prev.CreatedAt
		merged.LastUpdated = now
		writes = append(writes, plannedWrite{rec: merged, isCreate: false})
	}

	return writes, noops, nil
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return DefaultBatchSize
}

func (l *Loader) workers() int {
	if l.Workers > 0 {
		return l.Workers
	}
	return 1
}

func (l *Loader) retryConfig() resilience.RetryConfig {
	if l.Retry.MaxAttempts > 0 {
		return l.Retry
	}
	return resilience.DefaultRetryConfig()
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// partition splits records into chunks of at most size.
func partition(records []model.FacilityRecord, size int) [][]model.FacilityRecord {
	var chunks [][]model.FacilityRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// Scopes returns the distinct state+city buckets touched by the records,
// in first-seen order, for the aggregate refresh that follows a load.
func Scopes(records []model.FacilityRecord) []model.CityScope {
	seen := make(map[model.CityScope]bool, len(records))
	var out []model.CityScope
	for i := range records {
		sc := model.CityScope{State: records[i].State, City: records[i].City}
		if !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	return out
}
