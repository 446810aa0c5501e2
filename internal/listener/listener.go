package listener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/config"
	"reconcile/internal/connectors"
	gmailconnector "reconcile/internal/connectors/gmail"
	imapconnector "reconcile/internal/connectors/imap"
	"reconcile/internal/pipeline"
	"reconcile/internal/storage"
)

const (
	StatusFetched   = "fetched"
	StatusProcessed = "processed"
	StatusExported  = "exported"
	StatusSkipped   = "skipped"
	StatusUnrouted  = "unrouted"
	StatusFailed    = "failed"
)

// Service polls a mailbox, routes each new message to a tenant by sender and
// runs the rows it carries through a batch.
type Service struct {
	db    *storage.DB
	cfg   config.Config
	batch *pipeline.Batch
	log   *zap.Logger
}

func NewService(db *storage.DB, cfg config.Config, batch *pipeline.Batch, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, cfg: cfg, batch: batch, log: log}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	s.log.Info("listener started", zap.String("provider", s.cfg.MailListenerProvider), zap.Duration("interval", interval))
	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("listener cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.log.Info("listener stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := MakeConnector(ctx, s.cfg, provider, s.log)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector, s.log)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	processed, err := s.ProcessPending(ctx, provider, s.cfg.MailListenerFetchMax)
	if err != nil {
		return err
	}

	s.log.Info("listener cycle done",
		zap.String("provider", provider),
		zap.Int("fetched", fetchResult.Fetched),
		zap.Int("stored", fetchResult.Stored),
		zap.Int("processed", processed))
	return nil
}

// ProcessPending runs every fetched message of provider through a batch and
// returns how many produced a run.
func (s *Service) ProcessPending(ctx context.Context, provider string, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}
	emails, err := s.db.ListEmailsByStatus(ctx, StatusFetched, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, email := range emails {
		if provider != "" && email.Provider != provider {
			continue
		}
		ok, err := s.processEmail(ctx, email)
		if err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			s.log.Error("email processing failed", zap.Int("email", email.ID), zap.String("message_id", email.MessageID), zap.Error(err))
			_ = s.db.UpdateEmailStatus(ctx, email.ID, StatusFailed)
			continue
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

func (s *Service) processEmail(ctx context.Context, email internal.EmailRow) (bool, error) {
	log := s.log.With(zap.Int("email", email.ID), zap.String("message_id", email.MessageID))

	tenant, ok := s.cfg.TenantForSender(email.Sender)
	if !ok {
		log.Warn("no tenant for sender", zap.String("sender", email.Sender))
		return false, s.db.UpdateEmailStatus(ctx, email.ID, StatusUnrouted)
	}

	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return false, err
	}
	records, err := pipeline.ReadRecords(raw, pipeline.FormatEML, s.cfg.InputHasHeader)
	if errors.Is(err, pipeline.ErrNoRows) {
		log.Info("email carries no rows")
		return false, s.db.UpdateEmailStatus(ctx, email.ID, StatusSkipped)
	}
	if err != nil {
		return false, err
	}

	res, err := s.batch.Run(ctx, tenant, "mail:"+email.MessageID, records, nil)
	if err != nil {
		return false, err
	}
	if err := s.db.MarkEmailProcessed(ctx, email.ID, tenant, res.RunID); err != nil {
		return false, err
	}
	log.Info("email processed", zap.String("tenant", string(tenant)), zap.String("run", res.RunID), zap.Int("persisted", res.Summary.Persisted))

	if s.cfg.MailListenerAutoExport {
		if err := s.export(ctx, email, tenant, res.RunID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Service) export(ctx context.Context, email internal.EmailRow, tenant internal.Tenant, runID string) error {
	rows, err := s.db.ListRows(ctx, tenant, runID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	filename := fmt.Sprintf("%d_%s.xlsx", email.ID, sanitizeMessageID(email.MessageID))
	outputPath := filepath.Join(s.cfg.OutputDir, "listener", string(tenant), filename)
	if err := pipeline.ExportRowsToXLSX(rows, outputPath); err != nil {
		return err
	}
	return s.db.UpdateEmailStatus(ctx, email.ID, StatusExported)
}

func MakeConnector(ctx context.Context, cfg config.Config, provider string, log *zap.Logger) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg, log)
	case "imap":
		return imapconnector.NewConnector(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
