package storage

import (
	"context"
	"database/sql"
	"errors"

	"reconcile/internal"
)

const emailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef, tenant, runId`

// UpsertEmail records a fetched message. Re-fetching a known message keeps
// its processing status.
func (d *DB) UpsertEmail(ctx context.Context, msg internal.FetchedMailMessage, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(ctx, msg.Provider, msg.MessageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

func (d *DB) GetEmailByProviderMessageID(ctx context.Context, provider, messageID string) (*internal.EmailRow, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE provider = ? AND messageId = ?`, provider, messageID)
	email, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (d *DB) ListEmailsByStatus(ctx context.Context, status string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE status = ? ORDER BY receivedAt ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(ctx context.Context, emailID int, status string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

// MarkEmailProcessed links the message to the tenant and batch run its rows went to.
func (d *DB) MarkEmailProcessed(ctx context.Context, emailID int, tenant internal.Tenant, runID string) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE emails SET status = 'processed', tenant = ?, runId = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?
`, string(tenant), nullString(runID), emailID)
	return err
}

func scanEmail(s scanner) (internal.EmailRow, error) {
	var row internal.EmailRow
	var subject, sender, received, tenant, runID sql.NullString
	err := s.Scan(&row.ID, &row.Provider, &row.MessageID, &subject, &sender, &received, &row.Hash, &row.Status, &row.RawRef, &tenant, &runID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	row.Subject, row.Sender, row.ReceivedAt = subject.String, sender.String, received.String
	row.Tenant = internal.Tenant(tenant.String)
	if runID.Valid {
		v := runID.String
		row.RunID = &v
	}
	return row, nil
}
