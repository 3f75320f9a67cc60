// Package grid models sheet-like columnar tables keyed by a label column
// and date columns.
//
// A Store hands out named Tables with 1-based row/column addressing and a
// frozen label region (header rows, label column). Reads and writes are
// batched: one call is one round trip to the backing store, never one per
// cell. Blank cells are the empty string.
package grid

import (
	"context"
	"fmt"
	"time"
)

// DateLayout is the normalized cell format for all dates. Lexicographic
// comparison on this layout matches chronological order.
const DateLayout = "2006-01-02"

// Store provides access to named tables, creating them on first use.
type Store interface {
	Table(name string) (Table, error)
}

// Table is a rectangular grid of string cells. Rows and columns are 1-based.
type Table interface {
	Name() string

	// Dims returns the current extent of the table. An empty table is 0x0.
	Dims(ctx context.Context) (rows, cols int, err error)

	// Read returns a numRows x numCols region starting at (row, col).
	// Cells beyond the table extent come back as "".
	Read(ctx context.Context, row, col, numRows, numCols int) ([][]string, error)

	// Write stores a rectangular region starting at (row, col), growing the
	// table as needed.
	Write(ctx context.Context, row, col int, values [][]string) error

	// InsertColsBefore shifts col and everything right of it by n columns.
	InsertColsBefore(ctx context.Context, col, n int) error

	// AppendRows adds rows after the last occupied row.
	AppendRows(ctx context.Context, values [][]string) error

	// Clear removes all content.
	Clear(ctx context.Context) error
}

// RowLabels returns the non-empty values of labelCol from firstRow down.
func RowLabels(ctx context.Context, t Table, labelCol, firstRow int) ([]string, error) {
	rows, _, err := t.Dims(ctx)
	if err != nil {
		return nil, err
	}
	if rows < firstRow {
		return nil, nil
	}
	region, err := t.Read(ctx, firstRow, labelCol, rows-firstRow+1, 1)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, r := range region {
		if r[0] != "" {
			labels = append(labels, r[0])
		}
	}
	return labels, nil
}

// FindRow scans labelCol from firstRow down for an exact match of label.
// Returns 0 when absent.
func FindRow(ctx context.Context, t Table, labelCol, firstRow int, label string) (int, error) {
	rows, _, err := t.Dims(ctx)
	if err != nil {
		return 0, err
	}
	if rows < firstRow {
		return 0, nil
	}
	region, err := t.Read(ctx, firstRow, labelCol, rows-firstRow+1, 1)
	if err != nil {
		return 0, err
	}
	for i, r := range region {
		if r[0] == label {
			return firstRow + i, nil
		}
	}
	return 0, nil
}

// FindOrAppendRow locates label in labelCol, appending a new labeled row at
// the end when absent. Dedup is by exact string match.
func FindOrAppendRow(ctx context.Context, t Table, labelCol, firstRow int, label string) (row int, created bool, err error) {
	row, err = FindRow(ctx, t, labelCol, firstRow, label)
	if err != nil {
		return 0, false, err
	}
	if row > 0 {
		return row, false, nil
	}
	rows, _, err := t.Dims(ctx)
	if err != nil {
		return 0, false, err
	}
	row = rows + 1
	if row < firstRow {
		row = firstRow
	}
	newRow := make([]string, labelCol)
	newRow[labelCol-1] = label
	if err := t.Write(ctx, row, 1, [][]string{newRow}); err != nil {
		return 0, false, err
	}
	return row, true, nil
}

// FindColumn scans headerRow from firstCol right for an exact match of label.
// Returns 0 when absent.
func FindColumn(ctx context.Context, t Table, headerRow, firstCol int, label string) (int, error) {
	_, cols, err := t.Dims(ctx)
	if err != nil {
		return 0, err
	}
	if cols < firstCol {
		return 0, nil
	}
	region, err := t.Read(ctx, headerRow, firstCol, 1, cols-firstCol+1)
	if err != nil {
		return 0, err
	}
	for i, v := range region[0] {
		if v == label {
			return firstCol + i, nil
		}
	}
	return 0, nil
}

// WeekGap returns the number of whole-week periods separating an existing
// most-recent period end from a newly observed one. Zero when newEnd is not
// strictly newer. The count is rounded up so a partial week still gets its
// own column.
func WeekGap(existingEnd, newEnd string) (int, error) {
	a, err := time.Parse(DateLayout, existingEnd)
	if err != nil {
		return 0, fmt.Errorf("parse existing end %q: %w", existingEnd, err)
	}
	b, err := time.Parse(DateLayout, newEnd)
	if err != nil {
		return 0, fmt.Errorf("parse new end %q: %w", newEnd, err)
	}
	if !b.After(a) {
		return 0, nil
	}
	days := int(b.Sub(a) / (24 * time.Hour))
	return (days + 6) / 7, nil
}

// ColumnName converts a 1-based column number to its spreadsheet letter name
// (1 = A, 27 = AA). Used when emitting formulas over table regions.
func ColumnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
