// Package staging moves candidate catalog entries from a reviewer's
// correction to a real master catalog row.
package staging

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/catalog"
)

type Store interface {
	// FindCandidateByKey ignores rejected candidates.
	FindCandidateByKey(ctx context.Context, tenant internal.Tenant, searchKey string) (internal.StagingCandidate, bool, error)
	FindMasterByKey(ctx context.Context, tenant internal.Tenant, searchKey string) (internal.CatalogEntry, bool, error)
	InsertCandidate(ctx context.Context, c internal.StagingCandidate) error
	GetCandidate(ctx context.Context, tenant internal.Tenant, id string) (internal.StagingCandidate, error)
	ListCandidates(ctx context.Context, tenant internal.Tenant, status internal.StagingStatus) ([]internal.StagingCandidate, error)
	// UpdateCandidateStatus changes status only if it is still from and
	// reports whether a row changed.
	UpdateCandidateStatus(ctx context.Context, tenant internal.Tenant, id string, from, to internal.StagingStatus) (bool, error)
	// PromoteCandidate atomically moves an approved candidate to created and
	// writes entry into the master catalog. It reports false when the
	// candidate was not approved.
	PromoteCandidate(ctx context.Context, tenant internal.Tenant, id string, entry internal.CatalogEntry) (bool, error)
}

var transitions = map[internal.StagingStatus][]internal.StagingStatus{
	internal.StagingPending:  {internal.StagingApproved, internal.StagingRejected},
	internal.StagingApproved: {internal.StagingCreated},
}

func CanTransition(from, to internal.StagingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Workflow struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
	log      *zap.Logger
}

func NewWorkflow(store Store, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Stage proposes a new catalog entry. The candidate always starts pending
// with the sentinel catalog id. When the tenant already has a live candidate
// or master entry with the same search key, that one is returned together
// with a DuplicateCollision error.
func (w *Workflow) Stage(ctx context.Context, tenant internal.Tenant, c internal.Classification, originRow, originalText string) (internal.StagingCandidate, error) {
	c = internal.Classification{
		Categoria: strings.TrimSpace(c.Categoria),
		Variedad:  strings.TrimSpace(c.Variedad),
		Color:     strings.TrimSpace(c.Color),
		Grado:     strings.TrimSpace(c.Grado),
	}
	if err := w.validate.Struct(c); err != nil {
		return internal.StagingCandidate{}, internal.ValidationError(0, "staging candidate: %v", err)
	}
	key := catalog.SearchKey(c)
	if key == "" {
		return internal.StagingCandidate{}, internal.ValidationError(0, "staging candidate has no searchable text")
	}

	if existing, ok, err := w.existing(ctx, tenant, key); err != nil || ok {
		return existing, err
	}

	ts := w.now().Format(time.RFC3339)
	cand := internal.StagingCandidate{
		ID:                 uuid.NewString(),
		Classification:     c,
		Tenant:             tenant,
		CatalogID:          internal.StagingCatalogID,
		SearchKey:          key,
		Status:             internal.StagingPending,
		OriginRowReference: originRow,
		OriginalInputText:  originalText,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if err := w.store.InsertCandidate(ctx, cand); err != nil {
		if internal.IsKind(err, internal.KindDuplicateCollision) {
			// lost a race with a concurrent Stage of the same key
			if existing, ok, ferr := w.existing(ctx, tenant, key); ferr == nil && ok {
				return existing, err
			}
		}
		return internal.StagingCandidate{}, err
	}

	w.log.Info("staged candidate",
		zap.String("tenant", string(tenant)),
		zap.String("id", cand.ID),
		zap.String("search_key", key),
		zap.String("origin", originRow))
	return cand, nil
}

func (w *Workflow) existing(ctx context.Context, tenant internal.Tenant, key string) (internal.StagingCandidate, bool, error) {
	cand, ok, err := w.store.FindCandidateByKey(ctx, tenant, key)
	if err != nil {
		return internal.StagingCandidate{}, false, err
	}
	if ok {
		return cand, true, internal.DuplicateCollisionError("staging candidate " + cand.ID + " already has key " + key)
	}

	entry, ok, err := w.store.FindMasterByKey(ctx, tenant, key)
	if err != nil {
		return internal.StagingCandidate{}, false, err
	}
	if ok {
		return internal.StagingCandidate{
			Classification: entry.Classification,
			Tenant:         tenant,
			CatalogID:      entry.CatalogID,
			SearchKey:      key,
			Status:         internal.StagingCreated,
		}, true, internal.DuplicateCollisionError("catalog entry " + entry.CatalogID + " already has key " + key)
	}
	return internal.StagingCandidate{}, false, nil
}

func (w *Workflow) Get(ctx context.Context, tenant internal.Tenant, id string) (internal.StagingCandidate, error) {
	return w.store.GetCandidate(ctx, tenant, id)
}

// List returns the tenant's candidates, all of them when status is empty.
func (w *Workflow) List(ctx context.Context, tenant internal.Tenant, status internal.StagingStatus) ([]internal.StagingCandidate, error) {
	return w.store.ListCandidates(ctx, tenant, status)
}

func (w *Workflow) Approve(ctx context.Context, tenant internal.Tenant, id string) (internal.StagingCandidate, error) {
	return w.transition(ctx, tenant, id, internal.StagingApproved)
}

func (w *Workflow) Reject(ctx context.Context, tenant internal.Tenant, id string) (internal.StagingCandidate, error) {
	return w.transition(ctx, tenant, id, internal.StagingRejected)
}

// Promote writes an approved candidate into the master catalog under
// catalogID and marks it created. Promoting a created candidate is a no-op.
// A catalogID that already names a different master entry is a
// DuplicateCollision and leaves the candidate approved.
func (w *Workflow) Promote(ctx context.Context, tenant internal.Tenant, id, catalogID string) (internal.StagingCandidate, error) {
	catalogID = strings.TrimSpace(catalogID)
	if catalogID == "" || catalogID == internal.StagingCatalogID {
		return internal.StagingCandidate{}, internal.ValidationError(0, "promotion needs a real catalog_id, got %q", catalogID)
	}

	cand, err := w.store.GetCandidate(ctx, tenant, id)
	if err != nil {
		return cand, err
	}
	if cand.Status == internal.StagingCreated {
		return cand, nil
	}
	if !CanTransition(cand.Status, internal.StagingCreated) {
		return cand, internal.InvalidTransitionError(cand.Status, internal.StagingCreated)
	}

	changed, err := w.store.PromoteCandidate(ctx, tenant, id, internal.CatalogEntry{
		Classification: cand.Classification,
		CatalogID:      catalogID,
		SearchKey:      cand.SearchKey,
	})
	if err != nil {
		return cand, err
	}
	from := cand.Status
	cand, err = w.store.GetCandidate(ctx, tenant, id)
	if err != nil {
		return cand, err
	}
	if !changed {
		// a concurrent Promote won; its catalog entry stands
		if cand.Status == internal.StagingCreated {
			return cand, nil
		}
		return cand, internal.InvalidTransitionError(cand.Status, internal.StagingCreated)
	}

	w.log.Info("staging transition",
		zap.String("tenant", string(tenant)),
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(internal.StagingCreated)),
		zap.String("catalog_id", catalogID))
	return cand, nil
}

func (w *Workflow) transition(ctx context.Context, tenant internal.Tenant, id string, to internal.StagingStatus) (internal.StagingCandidate, error) {
	cand, err := w.store.GetCandidate(ctx, tenant, id)
	if err != nil {
		return cand, err
	}
	if cand.Status == to {
		return cand, nil
	}
	if !CanTransition(cand.Status, to) {
		return cand, internal.InvalidTransitionError(cand.Status, to)
	}

	changed, err := w.store.UpdateCandidateStatus(ctx, tenant, id, cand.Status, to)
	if err != nil {
		return cand, err
	}
	from := cand.Status
	cand, err = w.store.GetCandidate(ctx, tenant, id)
	if err != nil {
		return cand, err
	}
	if !changed && cand.Status != to {
		return cand, internal.InvalidTransitionError(cand.Status, to)
	}

	w.log.Info("staging transition",
		zap.String("tenant", string(tenant)),
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return cand, nil
}
