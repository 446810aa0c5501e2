package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"reconcile/internal"
)

// SaveRow stores the row under (tenant, run, row number), replacing an
// earlier version of the same row.
func (d *DB) SaveRow(ctx context.Context, tenant internal.Tenant, row internal.ProcessedRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
INSERT INTO processed_rows (tenant, runId, rowNo, status, dedupStatus, catalogId, rowJson, updatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(tenant, runId, rowNo) DO UPDATE SET
  status=excluded.status,
  dedupStatus=excluded.dedupStatus,
  catalogId=excluded.catalogId,
  rowJson=excluded.rowJson,
  updatedAt=CURRENT_TIMESTAMP
`, string(tenant), row.RunID, row.RowNo, string(row.Status), string(row.DedupStatus), nullString(row.CatalogID), string(data))
	return err
}

func (d *DB) GetRow(ctx context.Context, tenant internal.Tenant, runID string, rowNo int) (internal.ProcessedRow, error) {
	var data string
	err := d.conn.QueryRowContext(ctx, `SELECT rowJson FROM processed_rows WHERE tenant = ? AND runId = ? AND rowNo = ?`,
		string(tenant), runID, rowNo).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.ProcessedRow{}, internal.NotFoundError("row %d of run %s", rowNo, runID)
	}
	if err != nil {
		return internal.ProcessedRow{}, err
	}
	var row internal.ProcessedRow
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return internal.ProcessedRow{}, err
	}
	return row, nil
}

func (d *DB) ListRows(ctx context.Context, tenant internal.Tenant, runID string) ([]internal.ProcessedRow, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT rowJson FROM processed_rows WHERE tenant = ? AND runId = ? ORDER BY rowNo ASC`, string(tenant), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.ProcessedRow{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var row internal.ProcessedRow
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) InsertRun(ctx context.Context, run internal.RunRecord) error {
	timingsJSON, _ := json.Marshal(run.Timings)
	countsJSON, _ := json.Marshal(run.Counts)
	created := run.CreatedAt
	if created == "" {
		created = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO runs (id, tenant, source, timingsJson, countsJson, createdAt) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET timingsJson=excluded.timingsJson, countsJson=excluded.countsJson
`, run.ID, string(run.Tenant), run.Source, string(timingsJSON), string(countsJSON), created)
	return err
}

func (d *DB) GetRun(ctx context.Context, tenant internal.Tenant, id string) (internal.RunRecord, error) {
	var run internal.RunRecord
	var t, source sql.NullString
	var timingsJSON, countsJSON string
	err := d.conn.QueryRowContext(ctx, `SELECT id, tenant, source, timingsJson, countsJson, createdAt FROM runs WHERE tenant = ? AND id = ?`,
		string(tenant), id).Scan(&run.ID, &t, &source, &timingsJSON, &countsJSON, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.RunRecord{}, internal.NotFoundError("run %s", id)
	}
	if err != nil {
		return internal.RunRecord{}, err
	}
	run.Tenant = internal.Tenant(t.String)
	run.Source = source.String
	if err := json.Unmarshal([]byte(timingsJSON), &run.Timings); err != nil {
		return internal.RunRecord{}, err
	}
	if err := json.Unmarshal([]byte(countsJSON), &run.Counts); err != nil {
		return internal.RunRecord{}, err
	}
	return run, nil
}
