package catalog

import (
	"strings"

	"reconcile/internal"
	"reconcile/internal/util"
)

// ParseCatalogRow reads a positional catalog row: 0..3 categoria, variedad,
// color, grado; 4 optional search key; 5 catalog id.
func ParseCatalogRow(lineNo int, fields []string) (internal.CatalogEntry, error) {
	if len(fields) < internal.MinCatalogFields {
		return internal.CatalogEntry{}, internal.ValidationError(lineNo, "catalog row needs at least %d columns, got %d", internal.MinCatalogFields, len(fields))
	}
	cell := func(i int) string { return strings.TrimSpace(fields[i]) }

	entry := internal.CatalogEntry{
		Classification: internal.Classification{
			Categoria: cell(0),
			Variedad:  cell(1),
			Color:     cell(2),
			Grado:     cell(3),
		},
		CatalogID: cell(5),
	}
	if entry.CatalogID == "" {
		return internal.CatalogEntry{}, internal.ValidationError(lineNo, "catalog row has no catalog_id")
	}
	if entry.CatalogID == internal.StagingCatalogID {
		return internal.CatalogEntry{}, internal.ValidationError(lineNo, "catalog_id %s is reserved for staging", internal.StagingCatalogID)
	}
	entry.SearchKey = util.Normalize(cell(4))
	if entry.SearchKey == "" {
		entry.SearchKey = SearchKey(entry.Classification)
	}
	if entry.SearchKey == "" {
		return internal.CatalogEntry{}, internal.ValidationError(lineNo, "catalog row %s has no descriptive fields", entry.CatalogID)
	}
	return entry, nil
}

// ParseCatalogRows keeps every valid row and reports the rejected ones.
// Rows are 1-based by input position.
func ParseCatalogRows(rows [][]string) ([]internal.CatalogEntry, []error) {
	out := make([]internal.CatalogEntry, 0, len(rows))
	var errs []error
	for i, row := range rows {
		if isBlankRow(row) {
			continue
		}
		entry, err := ParseCatalogRow(i+1, row)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, entry)
	}
	return out, errs
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
