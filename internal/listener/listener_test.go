package listener

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"reconcile/internal"
	"reconcile/internal/config"
	"reconcile/internal/connectors"
	"reconcile/internal/pipeline"
	"reconcile/internal/storage"
)

func testService(t *testing.T) (*Service, *storage.DB, config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		DBPath:                 filepath.Join(dir, "test.db"),
		RawMailDir:             filepath.Join(dir, "raw"),
		OutputDir:              filepath.Join(dir, "out"),
		MatchOKThreshold:       90,
		MatchReviewThreshold:   60,
		BatchWorkers:           1,
		InputHasHeader:         true,
		StoreRetryAttempts:     1,
		StoreTimeoutMs:         5000,
		MailListenerAutoExport: true,
		MailTenantMap:          map[string]internal.Tenant{"acme.com": "acme"},
	}
	db, err := storage.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	proc := pipeline.NewProcessor(pipeline.Stores{Rules: db, Catalog: db, Rows: db, Runs: db}, cfg, nil)
	return NewService(db, cfg, pipeline.NewBatch(proc, 1, nil), nil), db, cfg
}

func offerSheet(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Description", "Qty", "Vendor", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10", "c11", "c12"},
		{"Red Roses", 10, "Acme"},
		{"Yellow Tulips", 5, "Acme"},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func storeMail(t *testing.T, db *storage.DB, cfg config.Config, from, id string, attach []byte) internal.EmailRow {
	t.Helper()
	b := enmime.Builder().
		From("Sales", from).
		To("Buyer", "buyer@example.com").
		Header("Message-ID", id).
		Subject("Availability").
		Text([]byte("see attached"))
	if attach != nil {
		b = b.AddAttachment(attach, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "offer.xlsx")
	}
	part, err := b.Build()
	require.NoError(t, err)
	var raw bytes.Buffer
	require.NoError(t, part.Encode(&raw))

	msg, err := connectors.MessageFromRaw("imap", id, raw.Bytes(), time.Time{})
	require.NoError(t, err)
	row, err := connectors.NewMailStoreService(db, cfg.RawMailDir).Store(context.Background(), msg)
	require.NoError(t, err)
	return row
}

func TestProcessPendingRoutesAndExports(t *testing.T) {
	svc, db, cfg := testService(t)
	ctx := context.Background()
	_, err := db.UpsertCatalogEntries(ctx, "acme", []internal.CatalogEntry{{
		Classification: internal.Classification{Categoria: "Flowers", Variedad: "Roses", Color: "Red"},
		CatalogID:      "CAT001",
	}})
	require.NoError(t, err)

	routed := storeMail(t, db, cfg, "sales@acme.com", "<m1@acme.com>", offerSheet(t))
	unknown := storeMail(t, db, cfg, "someone@elsewhere.org", "<m2@elsewhere.org>", offerSheet(t))
	empty := storeMail(t, db, cfg, "sales@acme.com", "<m3@acme.com>", nil)

	n, err := svc.ProcessPending(ctx, "imap", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetEmailByProviderMessageID(ctx, "imap", routed.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StatusExported, got.Status)
	assert.Equal(t, internal.Tenant("acme"), got.Tenant)
	require.NotNil(t, got.RunID)

	rows, err := db.ListRows(ctx, "acme", *got.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CAT001", rows[0].CatalogID)

	exported, err := os.ReadDir(filepath.Join(cfg.OutputDir, "listener", "acme"))
	require.NoError(t, err)
	assert.Len(t, exported, 1)

	got, err = db.GetEmailByProviderMessageID(ctx, "imap", unknown.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StatusUnrouted, got.Status)

	got, err = db.GetEmailByProviderMessageID(ctx, "imap", empty.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, got.Status)

	n, err = svc.ProcessPending(ctx, "imap", 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSanitizeMessageID(t *testing.T) {
	assert.Equal(t, "_m1_acme.com_", sanitizeMessageID("<m1@acme.com>"))
}
