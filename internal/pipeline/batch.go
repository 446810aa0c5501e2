package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reconcile/internal"
)

const (
	PhasePreparing = "preparing"
	PhaseMatching  = "matching"
	PhaseDone      = "done"

	prepareShare = 0.10
)

type Progress struct {
	Fraction float64
	Phase    string
}

type ProgressFunc func(Progress)

type Summary struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Errors     int `json:"errors"`
	Failed     int `json:"failed"`
	Persisted  int `json:"persisted"`
}

type BatchResult struct {
	RunID   string
	Tenant  internal.Tenant
	Rows    []internal.ProcessedRow
	Summary Summary
}

type Batch struct {
	proc    *Processor
	workers int
	log     *zap.Logger
}

func NewBatch(proc *Processor, workers int, log *zap.Logger) *Batch {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Batch{proc: proc, workers: workers, log: log}
}

// Run drives every record through the processor. A failing row never aborts
// the batch; on cancellation the rows finished so far are returned with ctx.Err().
func (b *Batch) Run(ctx context.Context, tenant internal.Tenant, source string, records []internal.RawRecord, progress ProgressFunc) (BatchResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	report := newTracker(progress, len(records))
	report.phase(0, PhasePreparing)

	res := BatchResult{RunID: runID, Tenant: tenant}
	log := b.log.With(zap.String("run", runID), zap.String("tenant", string(tenant)))

	statuses := Dedup(records)
	run, err := b.proc.Prepare(ctx, tenant, runID)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// nothing can be matched without rules and catalog
		res.Rows = make([]internal.ProcessedRow, len(records))
		for i, r := range records {
			if statuses[i] == internal.DedupDuplicate {
				res.Rows[i] = duplicateRow(runID, r)
				continue
			}
			res.Rows[i] = internal.ProcessedRow{
				RunID: runID, RowNo: r.LineNo, Fields: r.Fields,
				Status: internal.RowStatusFailed, Error: err.Error(), MatchSource: internal.SourceNone,
			}
		}
		res.Summary = summarize(res.Rows)
		report.phase(1, PhaseDone)
		log.Error("batch preparation failed", zap.Error(err))
		return res, err
	}
	prepared := time.Now()
	report.phase(prepareShare, PhasePreparing)

	rows := make([]internal.ProcessedRow, len(records))
	done := make([]bool, len(records))
	one := func(i int) {
		rows[i] = b.processOne(ctx, run, records[i], statuses[i])
		done[i] = true
		report.step()
	}

	if b.workers == 1 {
		for i := range records {
			if ctx.Err() != nil {
				break
			}
			one(i)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(b.workers)
		for i := range records {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				one(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Rows = make([]internal.ProcessedRow, 0, len(records))
	for i := range rows {
		if done[i] {
			res.Rows = append(res.Rows, rows[i])
		}
	}
	res.Summary = summarize(res.Rows)
	hits, misses := run.Matcher.Cache().Stats()

	b.recordRun(ctx, internal.RunRecord{
		ID:     runID,
		Tenant: tenant,
		Source: source,
		Timings: map[string]float64{
			"prepareMs": float64(prepared.Sub(start).Milliseconds()),
			"totalMs":   float64(time.Since(start).Milliseconds()),
		},
		Counts: map[string]int{
			"total":       len(records),
			"processed":   res.Summary.Processed,
			"duplicates":  res.Summary.Duplicates,
			"invalid":     res.Summary.Invalid,
			"errors":      res.Summary.Errors,
			"failed":      res.Summary.Failed,
			"persisted":   res.Summary.Persisted,
			"cacheHits":   int(hits),
			"cacheMisses": int(misses),
		},
	})

	if err := ctx.Err(); err != nil {
		log.Warn("batch cancelled", zap.Int("completed", len(res.Rows)), zap.Int("total", len(records)))
		return res, err
	}
	report.phase(1, PhaseDone)
	log.Info("batch finished",
		zap.Int("rows", len(records)),
		zap.Int("persisted", res.Summary.Persisted),
		zap.Int("failed", res.Summary.Failed),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (b *Batch) processOne(ctx context.Context, run *Run, raw internal.RawRecord, status internal.DedupStatus) (row internal.ProcessedRow) {
	if status == internal.DedupDuplicate {
		return duplicateRow(run.ID, raw)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("row panicked", zap.String("run", run.ID), zap.Int("row", raw.LineNo), zap.Any("panic", r))
				msg, _, _ := strings.Cut(fmt.Sprint(r), "\n")
				row = internal.ProcessedRow{
					RunID: run.ID, RowNo: raw.LineNo, Fields: raw.Fields,
					DedupStatus: internal.DedupPending, Status: internal.RowStatusError,
					Error: fmt.Sprintf("row %d: %s", raw.LineNo, msg), MatchSource: internal.SourceNone,
				}
			}
		}()
		row = b.proc.ProcessRow(run, raw)
	}()

	if err := b.proc.save(ctx, run.Tenant, row); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		row.Status = internal.RowStatusFailed
		row.Error = err.Error()
	}
	return row
}

func (b *Batch) recordRun(ctx context.Context, run internal.RunRecord) {
	if b.proc.stores.Runs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := b.proc.retry.Do(ctx, "insert_run", func(ctx context.Context) error {
		return b.proc.stores.Runs.InsertRun(ctx, run)
	}); err != nil {
		b.log.Warn("run record not stored", zap.String("run", run.ID), zap.Error(err))
	}
}

func summarize(rows []internal.ProcessedRow) Summary {
	s := Summary{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case internal.RowStatusDuplicate:
			s.Duplicates++
			continue
		case internal.RowStatusOK:
			s.Processed++
		case internal.RowStatusInvalid:
			s.Invalid++
		case internal.RowStatusError:
			s.Errors++
		case internal.RowStatusFailed:
			s.Failed++
			continue
		}
		s.Persisted++
	}
	return s
}

// tracker reports monotonic progress from any number of workers.
type tracker struct {
	mu    sync.Mutex
	fn    ProgressFunc
	total int
	done  int
	last  float64
}

func newTracker(fn ProgressFunc, total int) *tracker {
	return &tracker{fn: fn, total: total}
}

func (t *tracker) phase(f float64, phase string) {
	if t.fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if f < t.last {
		f = t.last
	}
	t.last = f
	t.fn(Progress{Fraction: f, Phase: phase})
}

func (t *tracker) step() {
	if t.fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	f := prepareShare + (1-prepareShare)*float64(t.done)/float64(t.total)
	if f > 1 {
		f = 1
	}
	if f < t.last {
		f = t.last
	}
	t.last = f
	t.fn(Progress{Fraction: f, Phase: PhaseMatching})
}
