package grid

import (
	"context"
	"sync"
)

// Memory is an in-memory Store. It backs tests and runs without a workbook
// configured.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*memTable
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

// Table returns the named table, creating it empty on first use.
func (m *Memory) Table(name string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{name: name}
		m.tables[name] = t
	}
	return t, nil
}

type memTable struct {
	mu    sync.Mutex
	name  string
	cells [][]string
}

func (t *memTable) Name() string { return t.name }

func (t *memTable) Dims(ctx context.Context) (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols := 0
	for _, r := range t.cells {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return len(t.cells), cols, nil
}

func (t *memTable) Read(ctx context.Context, row, col, numRows, numCols int) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, numRows)
	for i := 0; i < numRows; i++ {
		out[i] = make([]string, numCols)
		r := row - 1 + i
		if r >= len(t.cells) {
			continue
		}
		for j := 0; j < numCols; j++ {
			c := col - 1 + j
			if c < len(t.cells[r]) {
				out[i][j] = t.cells[r][c]
			}
		}
	}
	return out, nil
}

func (t *memTable) Write(ctx context.Context, row, col int, values [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, vr := range values {
		r := row - 1 + i
		t.grow(r+1, col-1+len(vr))
		copy(t.cells[r][col-1:], vr)
	}
	return nil
}

func (t *memTable) InsertColsBefore(ctx context.Context, col, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	blank := make([]string, n)
	for i, r := range t.cells {
		if len(r) < col-1 {
			continue
		}
		row := make([]string, 0, len(r)+n)
		row = append(row, r[:col-1]...)
		row = append(row, blank...)
		row = append(row, r[col-1:]...)
		t.cells[i] = row
	}
	return nil
}

func (t *memTable) AppendRows(ctx context.Context, values [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, vr := range values {
		row := make([]string, len(vr))
		copy(row, vr)
		t.cells = append(t.cells, row)
	}
	return nil
}

func (t *memTable) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cells = nil
	return nil
}

// grow extends the grid so it holds at least rows x cols cells.
func (t *memTable) grow(rows, cols int) {
	for len(t.cells) < rows {
		t.cells = append(t.cells, nil)
	}
	for i := range t.cells {
		for len(t.cells[i]) < cols {
			t.cells[i] = append(t.cells[i], "")
		}
	}
}
