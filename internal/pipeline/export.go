package pipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"reconcile/internal"
	"reconcile/internal/catalog"
)

var catalogHeaders = []string{"categoria", "variedad", "color", "grado", "search_key", "catalog_id"}

// ExportRowsToXLSX writes processed rows with the original columns first and
// the match and reviewer columns after them.
func ExportRowsToXLSX(rows []internal.ProcessedRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	width := internal.MinRawFields
	for _, r := range rows {
		if len(r.Fields) > width {
			width = len(r.Fields)
		}
	}

	headers := make([]string, 0, width+20)
	for i := 0; i < width; i++ {
		headers = append(headers, "field_"+strconv.Itoa(i))
	}
	headers = append(headers,
		"row_no", "status", "error", "dedup_status",
		"cleaned_text", "applied_synonyms", "removed_terms",
		"best_match", "similarity_percentage", "matched_words", "missing_words",
		"catalog_id", "categoria", "variedad", "color", "grado",
		"match_source", "match_status",
		"accept", "deny", "action", "word",
	)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		col := 0
		set := func(value any) {
			col++
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		for j := 0; j < width; j++ {
			if j < len(row.Fields) {
				set(row.Fields[j])
			} else {
				set("")
			}
		}
		set(row.RowNo)
		set(string(row.Status))
		set(row.Error)
		set(string(row.DedupStatus))
		set(row.CleanedText)
		set(formatSynonyms(row.AppliedSynonyms))
		set(strings.Join(row.RemovedTerms, ", "))
		set(row.BestMatch)
		set(derefInt(row.SimilarityPercentage))
		set(strings.Join(row.MatchedWords, ", "))
		set(strings.Join(row.MissingWords, ", "))
		set(row.CatalogID)
		set(row.Categoria)
		set(row.Variedad)
		set(row.Color)
		set(row.Grado)
		set(string(row.MatchSource))
		set(string(row.MatchStatus))
		set(row.Accept)
		set(row.Deny)
		set(string(row.Action))
		set(row.Word)
	}

	return save(f, outputPath)
}

func ExportCatalogToXLSX(entries []internal.CatalogEntry, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range catalogHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, e := range entries {
		values := []string{e.Categoria, e.Variedad, e.Color, e.Grado, e.SearchKey, e.CatalogID}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	return save(f, outputPath)
}

// ReadCatalogFile parses a catalog sheet. Bad rows come back as per-row
// errors next to the entries that parsed.
func ReadCatalogFile(path string, hasHeader bool) ([]internal.CatalogEntry, []error, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	rows, err := SheetRows(blob, format)
	if err != nil {
		return nil, nil, err
	}
	if hasHeader && len(rows) > 0 {
		rows = rows[1:]
	}
	entries, rowErrs := catalog.ParseCatalogRows(rows)
	return entries, rowErrs, nil
}

func save(f *excelize.File, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func formatSynonyms(pairs []internal.AppliedSynonym) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Original+"="+p.Replacement)
	}
	return strings.Join(parts, ", ")
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
