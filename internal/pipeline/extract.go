package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/extrame/xls"
	"github.com/jhillyerd/enmime"
	"github.com/xuri/excelize/v2"

	"reconcile/internal"
)

type InputFormat string

const (
	FormatXLSX InputFormat = "xlsx"
	FormatXLS  InputFormat = "xls"
	FormatCSV  InputFormat = "csv"
	FormatHTML InputFormat = "html"
	FormatEML  InputFormat = "eml"
)

var ErrNoRows = errors.New("no rows found")

func FormatFromPath(path string) (InputFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".eml":
		return FormatEML, nil
	default:
		return "", fmt.Errorf("unsupported input type: %s", filepath.Ext(path))
	}
}

func ReadRecordsFile(path string, hasHeader bool) ([]internal.RawRecord, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadRecords(blob, format, hasHeader)
}

// ReadRecords converts a vendor file into positional records numbered from 1
// in file order. Column count is not checked here; short rows are rejected
// one by one when processed.
func ReadRecords(content []byte, format InputFormat, hasHeader bool) ([]internal.RawRecord, error) {
	if format == FormatEML {
		return readEmailRecords(content, hasHeader)
	}
	rows, err := SheetRows(content, format)
	if err != nil {
		return nil, err
	}
	return toRecords(rows, hasHeader, 0), nil
}

// SheetRows returns the cell text of the first sheet or table in content.
func SheetRows(content []byte, format InputFormat) ([][]string, error) {
	switch format {
	case FormatXLSX:
		return xlsxRows(content)
	case FormatXLS:
		return xlsRows(content)
	case FormatCSV:
		return csvRows(content)
	case FormatHTML:
		return htmlTableRows(string(content))
	default:
		return nil, fmt.Errorf("unsupported sheet format: %s", format)
	}
}

func toRecords(rows [][]string, hasHeader bool, offset int) []internal.RawRecord {
	width := internal.MinRawFields
	if hasHeader && len(rows) > 0 {
		width = len(rows[0])
		rows = rows[1:]
	}

	out := make([]internal.RawRecord, 0, len(rows))
	for _, row := range rows {
		cells := normalizeCells(row)
		if isBlank(cells) {
			continue
		}
		// spreadsheet readers drop trailing empty cells
		for len(cells) < width {
			cells = append(cells, "")
		}
		out = append(out, internal.RawRecord{LineNo: offset + len(out) + 1, Fields: cells})
	}
	return out
}

func xlsxRows(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}
	return f.GetRows(sheets[0])
}

func xlsRows(content []byte) ([][]string, error) {
	book, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, ErrNoRows
	}

	rows := [][]string{}
	for i := 0; i <= int(sheet.MaxRow); i++ {
		r := sheet.Row(i)
		if r == nil {
			continue
		}
		cells := make([]string, 0, r.LastCol())
		for j := 0; j < r.LastCol(); j++ {
			cells = append(cells, r.Col(j))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func csvRows(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if first, _, _ := strings.Cut(string(content), "\n"); strings.Count(first, ";") > strings.Count(first, ",") {
		r.Comma = ';'
	}

	rows := [][]string{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// htmlTableRows reads the first table with at least one data row.
func htmlTableRows(html string) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var rows [][]string
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		trs := table.Find("tr")
		if trs.Length() < 2 {
			return true
		}
		trs.Each(func(_ int, tr *goquery.Selection) {
			cells := []string{}
			tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, cell.Text())
			})
			rows = append(rows, cells)
		})
		return false
	})
	if rows == nil {
		return nil, ErrNoRows
	}
	return rows, nil
}

// readEmailRecords collects rows from every spreadsheet attachment in the
// message, falling back to a table in the HTML body.
func readEmailRecords(raw []byte, hasHeader bool) ([]internal.RawRecord, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	out := []internal.RawRecord{}
	for _, att := range env.Attachments {
		format, err := FormatFromPath(strings.TrimSpace(att.FileName))
		if err != nil || format == FormatEML {
			continue
		}
		rows, err := SheetRows(att.Content, format)
		if err != nil {
			continue
		}
		out = append(out, toRecords(rows, hasHeader, len(out))...)
	}

	if len(out) == 0 && env.HTML != "" {
		if rows, err := htmlTableRows(env.HTML); err == nil {
			out = toRecords(rows, hasHeader, 0)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range row {
		out = append(out, strings.Join(strings.Fields(c), " "))
	}
	return out
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
