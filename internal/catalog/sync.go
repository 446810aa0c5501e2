package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/config"
)

type Writer interface {
	UpsertCatalogEntries(ctx context.Context, tenant internal.Tenant, entries []internal.CatalogEntry) (int, error)
	SetMetadata(ctx context.Context, key, value string) error
}

type SyncService struct {
	db     Writer
	client *Client
	log    *zap.Logger
}

func NewSyncService(db Writer, cfg config.Config, log *zap.Logger) *SyncService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{db: db, client: NewClient(cfg, log), log: log}
}

// Sync upserts the remote entries by catalog_id into the tenant's master
// catalog. Local entries missing remotely are kept.
func (s *SyncService) Sync(ctx context.Context, tenant internal.Tenant) (int, error) {
	entries, err := s.client.FetchCatalog(ctx, tenant)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		s.log.Warn("remote catalog is empty", zap.String("tenant", string(tenant)))
	}
	n, err := s.db.UpsertCatalogEntries(ctx, tenant, entries)
	if err != nil {
		return 0, err
	}
	_ = s.db.SetMetadata(ctx, "catalog.last_sync."+string(tenant), time.Now().UTC().Format(time.RFC3339))
	s.log.Info("catalog synced", zap.String("tenant", string(tenant)), zap.Int("entries", n))
	return n, nil
}
