// Package sheets reads customer rosters from spreadsheets and writes revenue
// reports and invoices as workbooks.
package sheets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const maxRows = 100000

var emailHeaders = []string{"email", "e-mail", "email address", "customer email"}

// ReadRows returns every row of the single worksheet in an .xls or .xlsx file.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, errors.New("no worksheet found")
		}
		if workbook.NumSheets() > 1 {
			return nil, errors.New("multiple worksheets found; please upload a file with a single sheet")
		}
		rows := workbook.ReadAllCells(maxRows)
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	case ".xlsx":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, errors.New("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported roster file type %q", filepath.Ext(filename))
	}
}

// RosterRow is one customer line of an imported roster.
type RosterRow struct {
	Line  int
	Email string
}

// ParseRoster extracts customer emails. Blank lines are skipped, invalid
// addresses are returned in skipped with their line numbers.
func ParseRoster(reader io.Reader, filename string) (rows []RosterRow, skipped []RosterRow, err error) {
	all, err := ReadRows(reader, filename)
	if err != nil {
		return nil, nil, err
	}

	emailIdx := -1
	for i, header := range all[0] {
		if containsHeader(emailHeaders, normalizeHeader(header)) {
			emailIdx = i
			break
		}
	}
	if emailIdx < 0 {
		return nil, nil, errors.New("missing required column: email")
	}

	seen := map[string]struct{}{}
	for i, row := range all[1:] {
		line := i + 2
		raw := strings.ToLower(cellValue(row, emailIdx))
		if raw == "" {
			continue
		}
		addr, parseErr := mail.ParseAddress(raw)
		if parseErr != nil || addr.Address != raw {
			skipped = append(skipped, RosterRow{Line: line, Email: raw})
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		rows = append(rows, RosterRow{Line: line, Email: raw})
	}
	return rows, skipped, nil
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func containsHeader(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
