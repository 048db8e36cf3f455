// Package tabular parses, normalizes, and summarizes tabular snapshots.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Table is an in-memory tabular dataset with all cells as text.
type Table struct {
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// ErrNoHeader indicates the input had no header row.
var ErrNoHeader = errors.New("tabular content has no header row")

// ParseCSV reads CSV content, keeping at most maxRows data rows to bound
// memory. The second return value reports whether rows were dropped.
func ParseCSV(r io.Reader, maxRows int) (*Table, bool, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, false, ErrNoHeader
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	table := &Table{Columns: columns}
	truncated := false

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read row %d: %w", len(table.Rows)+2, err)
		}

		if len(table.Rows) >= maxRows {
			truncated = true
			break
		}

		// Ragged rows are padded or clipped to the header width so one
		// malformed line does not abandon the snapshot.
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(record) {
				row[i] = record[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, truncated, nil
}

// WriteCSV serializes the table back to CSV text.
func WriteCSV(table *Table) (string, error) {
	var b strings.Builder
	writer := csv.NewWriter(&b)

	if err := writer.Write(table.Columns); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range table.Rows {
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return b.String(), nil
}
