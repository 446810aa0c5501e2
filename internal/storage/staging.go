package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"reconcile/internal"
	"reconcile/internal/catalog"
)

func (d *DB) InsertCandidate(ctx context.Context, c internal.StagingCandidate) error {
	var promoted sql.NullString
	if c.PromotedCatalogID != nil {
		promoted = sql.NullString{String: *c.PromotedCatalogID, Valid: true}
	}
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO staging_candidates (`+candidateColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, c.ID, string(c.Tenant), c.Categoria, c.Variedad, c.Color, c.Grado, c.CatalogID, c.SearchKey, string(c.Status),
		c.OriginRowReference, c.OriginalInputText, promoted, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return internal.DuplicateCollisionError("staging key " + c.SearchKey + " already taken")
	}
	return err
}

func (d *DB) GetCandidate(ctx context.Context, tenant internal.Tenant, id string) (internal.StagingCandidate, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM staging_candidates WHERE tenant = ? AND id = ?`, string(tenant), id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.StagingCandidate{}, internal.NotFoundError("staging candidate %s", id)
	}
	return c, err
}

// FindCandidateByKey ignores rejected candidates.
func (d *DB) FindCandidateByKey(ctx context.Context, tenant internal.Tenant, searchKey string) (internal.StagingCandidate, bool, error) {
	row := d.conn.QueryRowContext(ctx, `
SELECT `+candidateColumns+` FROM staging_candidates
WHERE tenant = ? AND searchKey = ? AND status <> 'rejected'
ORDER BY createdAt ASC, rowid ASC LIMIT 1
`, string(tenant), searchKey)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.StagingCandidate{}, false, nil
	}
	if err != nil {
		return internal.StagingCandidate{}, false, err
	}
	return c, true, nil
}

// ListCandidates returns candidates in creation order, all of them when
// status is empty.
func (d *DB) ListCandidates(ctx context.Context, tenant internal.Tenant, status internal.StagingStatus) ([]internal.StagingCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM staging_candidates WHERE tenant = ?`
	args := []any{string(tenant)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY createdAt ASC, rowid ASC`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.StagingCandidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCandidateStatus changes status only if it is still from.
func (d *DB) UpdateCandidateStatus(ctx context.Context, tenant internal.Tenant, id string, from, to internal.StagingStatus) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
UPDATE staging_candidates
SET status = ?, updatedAt = ?
WHERE tenant = ? AND id = ? AND status = ?
`, string(to), time.Now().UTC().Format(time.RFC3339), string(tenant), id, string(from))
	if isUniqueViolation(err) {
		// reviving a key another live candidate holds
		return false, internal.DuplicateCollisionError("staging candidate " + id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PromoteCandidate marks an approved candidate created under entry.CatalogID
// and writes entry into the master catalog in one transaction. It reports
// false without writing anything when the candidate is no longer approved.
// A catalog_id already held by a master entry with another search key is a
// DuplicateCollision.
func (d *DB) PromoteCandidate(ctx context.Context, tenant internal.Tenant, id string, entry internal.CatalogEntry) (bool, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE staging_candidates
SET status = 'created', promotedCatalogId = ?, updatedAt = ?
WHERE tenant = ? AND id = ? AND status = 'approved'
`, entry.CatalogID, time.Now().UTC().Format(time.RFC3339), string(tenant), id)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	if entry.SearchKey == "" {
		entry.SearchKey = catalog.SearchKey(entry.Classification)
	}
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT searchKey FROM catalog_entries WHERE tenant = ? AND catalogId = ?`,
		string(tenant), entry.CatalogID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_entries (tenant, catalogId, categoria, variedad, color, grado, searchKey)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, catalogArgs(tenant, entry)...); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	case existing != entry.SearchKey:
		return false, internal.DuplicateCollisionError("catalog_id " + entry.CatalogID + " already belongs to " + existing)
	}
	return true, tx.Commit()
}

func scanCandidate(s scanner) (internal.StagingCandidate, error) {
	var c internal.StagingCandidate
	var tenant, status string
	var variedad, color, grado, origin, text, promoted sql.NullString
	err := s.Scan(&c.ID, &tenant, &c.Categoria, &variedad, &color, &grado, &c.CatalogID, &c.SearchKey, &status,
		&origin, &text, &promoted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return internal.StagingCandidate{}, err
	}
	c.Tenant = internal.Tenant(tenant)
	c.Status = internal.StagingStatus(status)
	c.Variedad, c.Color, c.Grado = variedad.String, color.String, grado.String
	c.OriginRowReference, c.OriginalInputText = origin.String, text.String
	if promoted.Valid {
		v := promoted.String
		c.PromotedCatalogID = &v
	}
	return c, nil
}
