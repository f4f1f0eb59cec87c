// Package csvutil reads small header-addressed CSV tables such as the
// instrument list and the exchange listing exports.
package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Table is a fully read CSV file whose columns are addressed by header name.
type Table struct {
	cols map[string]int
	rows [][]string
}

// Read parses r and verifies that every required column is present.
// Header names are matched after trimming whitespace and a UTF-8 BOM.
func Read(r io.Reader, required ...string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", name)
		}
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: read rows: %w", err)
	}
	return &Table{cols: cols, rows: rows}, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Get returns the trimmed cell at (row, col), or "" when the column is unknown
// or the row is short.
func (t *Table) Get(row int, col string) string {
	i, ok := t.cols[col]
	if !ok || row < 0 || row >= len(t.rows) || i >= len(t.rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.rows[row][i])
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	_, ok := t.cols[col]
	return ok
}
