package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/config"
	"reconcile/internal/rules"
)

type RuleStore = rules.Store

type CatalogStore interface {
	// GetCatalog returns the tenant's master entries and its staging candidates.
	GetCatalog(ctx context.Context, tenant internal.Tenant) ([]internal.CatalogEntry, []internal.StagingCandidate, error)
}

type RowStore interface {
	SaveRow(ctx context.Context, tenant internal.Tenant, row internal.ProcessedRow) error
	GetRow(ctx context.Context, tenant internal.Tenant, runID string, rowNo int) (internal.ProcessedRow, error)
	ListRows(ctx context.Context, tenant internal.Tenant, runID string) ([]internal.ProcessedRow, error)
}

type RunStore interface {
	InsertRun(ctx context.Context, run internal.RunRecord) error
}

type Stager interface {
	Stage(ctx context.Context, tenant internal.Tenant, c internal.Classification, originRow, originalText string) (internal.StagingCandidate, error)
}

// Retry bounds every call the core makes into a store: a per-attempt timeout
// and a fixed number of attempts with jittered exponential backoff.
type Retry struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
	log      *zap.Logger
}

func RetryFromConfig(cfg config.Config, log *zap.Logger) Retry {
	if log == nil {
		log = zap.NewNop()
	}
	return Retry{
		Attempts: cfg.StoreRetryAttempts,
		Backoff:  time.Duration(cfg.StoreRetryBackoffMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.StoreTimeoutMs) * time.Millisecond,
		log:      log,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error or the
// attempts run out. Exhaustion is reported as an ExternalStoreError.
func (r Retry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	log := r.log
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if attempt < attempts {
			log.Debug("retrying store call", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
				return err
			}
		}
	}

	log.Warn("store call failed", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(lastErr))
	return internal.ExternalStoreError(op, lastErr)
}

func (r Retry) backoff(attempt int) time.Duration {
	if r.Backoff <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(r.Backoff)/2 + 1))
	return r.Backoff*time.Duration(1<<(attempt-1)) + jitter
}

func retryable(err error) bool {
	var e *internal.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case internal.KindValidation, internal.KindNotFound, internal.KindDuplicateCollision, internal.KindInvalidTransition:
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
