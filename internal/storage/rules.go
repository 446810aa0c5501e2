package storage

import (
	"context"
	"fmt"

	"reconcile/internal"
)

// GetRules returns the tenant's dictionary. Blacklist phrases come back in
// the order they were added.
func (d *DB) GetRules(ctx context.Context, tenant internal.Tenant) (internal.RuleSet, error) {
	set := internal.RuleSet{Synonyms: map[string]string{}, Blacklist: []string{}}

	rows, err := d.conn.QueryContext(ctx, `SELECT original, replacement FROM rules_synonyms WHERE tenant = ?`, string(tenant))
	if err != nil {
		return internal.RuleSet{}, err
	}
	for rows.Next() {
		var original, replacement string
		if err := rows.Scan(&original, &replacement); err != nil {
			rows.Close()
			return internal.RuleSet{}, err
		}
		set.Synonyms[original] = replacement
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return internal.RuleSet{}, err
	}
	rows.Close()

	rows, err = d.conn.QueryContext(ctx, `SELECT phrase FROM rules_blacklist WHERE tenant = ? ORDER BY id ASC`, string(tenant))
	if err != nil {
		return internal.RuleSet{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return internal.RuleSet{}, err
		}
		set.Blacklist = append(set.Blacklist, phrase)
	}
	return set, rows.Err()
}

func (d *DB) UpsertRule(ctx context.Context, tenant internal.Tenant, rule internal.Rule) error {
	switch rule.Action {
	case internal.ActionSynonym:
		_, err := d.conn.ExecContext(ctx, `
INSERT INTO rules_synonyms (tenant, original, replacement) VALUES (?, ?, ?)
ON CONFLICT(tenant, original) DO UPDATE SET replacement=excluded.replacement, updatedAt=CURRENT_TIMESTAMP
`, string(tenant), rule.Original, rule.Replacement)
		return err
	case internal.ActionBlacklist:
		_, err := d.conn.ExecContext(ctx, `
INSERT INTO rules_blacklist (tenant, phrase) VALUES (?, ?)
ON CONFLICT(tenant, phrase) DO NOTHING
`, string(tenant), rule.Original)
		return err
	default:
		return internal.ValidationError(0, "unknown rule action %q", rule.Action)
	}
}

// ReplaceRules swaps the tenant's whole dictionary in one transaction.
func (d *DB) ReplaceRules(ctx context.Context, tenant internal.Tenant, set internal.RuleSet) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"rules_synonyms", "rules_blacklist"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant = ?`, table), string(tenant)); err != nil {
			return err
		}
	}
	for original, replacement := range set.Synonyms {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rules_synonyms (tenant, original, replacement) VALUES (?, ?, ?)`, string(tenant), original, replacement); err != nil {
			return err
		}
	}
	for _, phrase := range set.Blacklist {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rules_blacklist (tenant, phrase) VALUES (?, ?) ON CONFLICT(tenant, phrase) DO NOTHING`, string(tenant), phrase); err != nil {
			return err
		}
	}
	return tx.Commit()
}
