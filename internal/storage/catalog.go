package storage

import (
	"context"
	"database/sql"
	"errors"

	"reconcile/internal"
	"reconcile/internal/catalog"
)

const catalogColumns = `catalogId, categoria, variedad, color, grado, searchKey`

const candidateColumns = `id, tenant, categoria, variedad, color, grado, catalogId, searchKey, status,
  originRow, originalText, promotedCatalogId, createdAt, updatedAt`

// UpsertCatalogEntries writes entries by catalog_id. Entries keep their
// original position in catalog order when updated.
func (d *DB) UpsertCatalogEntries(ctx context.Context, tenant internal.Tenant, entries []internal.CatalogEntry) (int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO catalog_entries (tenant, catalogId, categoria, variedad, color, grado, searchKey, updatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(tenant, catalogId) DO UPDATE SET
  categoria=excluded.categoria,
  variedad=excluded.variedad,
  color=excluded.color,
  grado=excluded.grado,
  searchKey=excluded.searchKey,
  updatedAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, e := range entries {
		if e.CatalogID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, catalogArgs(tenant, e)...); err != nil {
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

func catalogArgs(tenant internal.Tenant, e internal.CatalogEntry) []any {
	key := e.SearchKey
	if key == "" {
		key = catalog.SearchKey(e.Classification)
	}
	return []any{string(tenant), e.CatalogID, e.Categoria, e.Variedad, e.Color, e.Grado, key}
}

func (d *DB) ListCatalog(ctx context.Context, tenant internal.Tenant) ([]internal.CatalogEntry, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE tenant = ? ORDER BY id ASC`, string(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.CatalogEntry{}
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCatalog returns the master catalog in catalog order and the pending
// staging candidates in creation order.
func (d *DB) GetCatalog(ctx context.Context, tenant internal.Tenant) ([]internal.CatalogEntry, []internal.StagingCandidate, error) {
	master, err := d.ListCatalog(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	pending, err := d.ListCandidates(ctx, tenant, internal.StagingPending)
	if err != nil {
		return nil, nil, err
	}
	return master, pending, nil
}

func (d *DB) FindMasterByKey(ctx context.Context, tenant internal.Tenant, searchKey string) (internal.CatalogEntry, bool, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE tenant = ? AND searchKey = ? ORDER BY id ASC LIMIT 1`, string(tenant), searchKey)
	e, err := scanCatalogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.CatalogEntry{}, false, nil
	}
	if err != nil {
		return internal.CatalogEntry{}, false, err
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(s scanner) (internal.CatalogEntry, error) {
	var e internal.CatalogEntry
	var variedad, color, grado sql.NullString
	if err := s.Scan(&e.CatalogID, &e.Categoria, &variedad, &color, &grado, &e.SearchKey); err != nil {
		return internal.CatalogEntry{}, err
	}
	e.Variedad, e.Color, e.Grado = variedad.String, color.String, grado.String
	return e, nil
}
