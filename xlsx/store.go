// Package xlsx backs the grid table abstraction with an .xlsx workbook.
// Sheets are tables; Save flushes the whole workbook to disk.
package xlsx

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/xuri/excelize/v2"

	"rankwatch/grid"
)

// Store implements grid.Store over one workbook file.
type Store struct {
	mu   sync.Mutex
	f    *excelize.File
	path string
}

// Open loads the workbook at path, creating a new one when the file does not
// exist yet. Nothing is written until Save.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("xlsx: stat %s: %w", path, err)
		}
		return &Store{f: excelize.NewFile(), path: path}, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open %s: %w", path, err)
	}
	return &Store{f: f, path: path}, nil
}

// Table returns the sheet with the given name, creating it when absent.
func (s *Store) Table(name string) (grid.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureSheet(name); err != nil {
		return nil, err
	}
	return &sheet{store: s, name: name}, nil
}

// Save writes the workbook to its path.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.SaveAs(s.path); err != nil {
		return fmt.Errorf("xlsx: save %s: %w", s.path, err)
	}
	return nil
}

// Close releases the workbook without saving.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// File exposes the underlying workbook for the chart renderer.
func (s *Store) File() *excelize.File {
	return s.f
}

func (s *Store) ensureSheet(name string) error {
	idx, err := s.f.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("xlsx: sheet index %s: %w", name, err)
	}
	if idx >= 0 {
		return nil
	}
	if _, err := s.f.NewSheet(name); err != nil {
		return fmt.Errorf("xlsx: create sheet %s: %w", name, err)
	}
	return nil
}

// sheet adapts one worksheet to grid.Table.
type sheet struct {
	store *Store
	name  string
}

func (t *sheet) Name() string { return t.name }

func (t *sheet) Dims(ctx context.Context) (int, int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rows, err := t.store.f.GetRows(t.name)
	if err != nil {
		return 0, 0, fmt.Errorf("xlsx: rows %s: %w", t.name, err)
	}
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return len(rows), cols, nil
}

func (t *sheet) Read(ctx context.Context, row, col, numRows, numCols int) ([][]string, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	all, err := t.store.f.GetRows(t.name)
	if err != nil {
		return nil, fmt.Errorf("xlsx: rows %s: %w", t.name, err)
	}

	out := make([][]string, numRows)
	for i := range numRows {
		out[i] = make([]string, numCols)
		r := row - 1 + i
		if r >= len(all) {
			continue
		}
		for j := range numCols {
			c := col - 1 + j
			if c < len(all[r]) {
				out[i][j] = all[r][c]
			}
		}
	}
	return out, nil
}

func (t *sheet) Write(ctx context.Context, row, col int, values [][]string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i, rowValues := range values {
		for j, value := range rowValues {
			cell, err := excelize.CoordinatesToCellName(col+j, row+i)
			if err != nil {
				return fmt.Errorf("xlsx: cell name: %w", err)
			}
			if err := t.setCell(cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// setCell routes formulas through SetCellFormula and keeps numbers numeric so
// chart series can reference them.
func (t *sheet) setCell(cell, value string) error {
	f := t.store.f
	switch {
	case len(value) > 0 && value[0] == '=':
		if err := f.SetCellFormula(t.name, cell, value[1:]); err != nil {
			return fmt.Errorf("xlsx: formula %s!%s: %w", t.name, cell, err)
		}
	default:
		if n, err := strconv.Atoi(value); err == nil && value != "" {
			return t.setCellValue(cell, n)
		}
		if x, err := strconv.ParseFloat(value, 64); err == nil && value != "" {
			return t.setCellValue(cell, x)
		}
		return t.setCellValue(cell, value)
	}
	return nil
}

func (t *sheet) setCellValue(cell string, v any) error {
	if err := t.store.f.SetCellValue(t.name, cell, v); err != nil {
		return fmt.Errorf("xlsx: set %s!%s: %w", t.name, cell, err)
	}
	return nil
}

func (t *sheet) InsertColsBefore(ctx context.Context, col, n int) error {
	if n <= 0 {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	name, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return fmt.Errorf("xlsx: column name: %w", err)
	}
	if err := t.store.f.InsertCols(t.name, name, n); err != nil {
		return fmt.Errorf("xlsx: insert cols %s: %w", t.name, err)
	}
	return nil
}

func (t *sheet) AppendRows(ctx context.Context, values [][]string) error {
	rows, _, err := t.Dims(ctx)
	if err != nil {
		return err
	}
	return t.Write(ctx, rows+1, 1, values)
}

// Clear recreates the sheet empty. A scratch sheet keeps the workbook from
// ever dropping to zero worksheets, which excelize rejects.
func (t *sheet) Clear(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	f := t.store.f
	const scratch = "__rankwatch_scratch"
	if _, err := f.NewSheet(scratch); err != nil {
		return fmt.Errorf("xlsx: scratch sheet: %w", err)
	}
	if err := f.DeleteSheet(t.name); err != nil {
		return fmt.Errorf("xlsx: delete sheet %s: %w", t.name, err)
	}
	if _, err := f.NewSheet(t.name); err != nil {
		return fmt.Errorf("xlsx: recreate sheet %s: %w", t.name, err)
	}
	if err := f.DeleteSheet(scratch); err != nil {
		return fmt.Errorf("xlsx: drop scratch sheet: %w", err)
	}
	return nil
}
