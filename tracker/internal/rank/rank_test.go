package rank

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"rankwatch/grid"
)

func fixedNow() time.Time {
	return time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
}

func newTables(t *testing.T) (grid.Table, grid.Table) {
	t.Helper()
	store := grid.NewMemory()
	raw, err := store.Table("Raw Rank Data")
	if err != nil {
		t.Fatalf("raw table: %v", err)
	}
	pivot, err := store.Table("Rank by Day")
	if err != nil {
		t.Fatalf("pivot table: %v", err)
	}
	return raw, pivot
}

func TestMergeIdempotent(t *testing.T) {
	// WHAT: Merging the same (keyword, date) observation twice yields one raw
	// row and one pivot cell.
	// WHY: Runs are re-invoked by a scheduler; the dedup check before insert
	// is the only thing standing between re-runs and duplicated data.
	ctx := context.Background()
	raw, pivot := newTables(t)
	r := New(raw, pivot, fixedNow, slog.Default())

	obs := []Observation{{
		ASIN: "B000TEST00", Keyword: "garlic press", Date: "2024-01-02",
		OrganicRank: 3, Volume30d: 900,
	}}

	n, err := r.Merge(ctx, nil, obs)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if n != 1 {
		t.Fatalf("first merge accepted: got %d, want 1", n)
	}

	n, err = r.Merge(ctx, nil, obs)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if n != 0 {
		t.Fatalf("second merge accepted: got %d, want 0", n)
	}

	rows, _, _ := raw.Dims(ctx)
	if rows != 2 { // header + one observation
		t.Errorf("raw rows: got %d, want 2", rows)
	}
	prows, pcols, _ := pivot.Dims(ctx)
	if prows != 2 || pcols != 2 {
		t.Errorf("pivot dims: got %dx%d, want 2x2", prows, pcols)
	}
}

func TestMergeRecencyFilter(t *testing.T) {
	// WHAT: An observation dated 8 days before now is dropped even though it
	// is newer than anything stored for that keyword.
	ctx := context.Background()
	raw, pivot := newTables(t)
	r := New(raw, pivot, fixedNow, slog.Default())

	n, err := r.Merge(ctx, nil, []Observation{{
		ASIN: "B000TEST00", Keyword: "stale", Date: "2023-12-26", OrganicRank: 1,
	}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if n != 0 {
		t.Fatalf("accepted: got %d, want 0", n)
	}
	rows, _, _ := raw.Dims(ctx)
	if rows != 0 {
		t.Errorf("raw rows: got %d, want 0", rows)
	}
}

func TestMergeOlderDateRejected(t *testing.T) {
	// WHAT: A date at or before the stored maximum for the keyword is
	// rejected; only strictly newer dates merge.
	ctx := context.Background()
	raw, pivot := newTables(t)
	r := New(raw, pivot, fixedNow, slog.Default())

	if _, err := r.Merge(ctx, nil, []Observation{{
		ASIN: "B000TEST00", Keyword: "garlic press", Date: "2024-01-02", OrganicRank: 2,
	}}); err != nil {
		t.Fatalf("seed merge: %v", err)
	}

	n, _ := r.Merge(ctx, nil, []Observation{{
		ASIN: "B000TEST00", Keyword: "garlic press", Date: "2024-01-01", OrganicRank: 1,
	}})
	if n != 0 {
		t.Fatalf("older date accepted: got %d, want 0", n)
	}
}

func TestMergeEndToEnd(t *testing.T) {
	// WHAT: Existing pivot with keywords a,b and column 2024-01-01; a new
	// snapshot ranks a=3 and c=1 on 2024-01-02. Result: 3 keyword rows, 2
	// date columns, cell(a,01-02)=3, cell(c,01-02)=1, cell(b,01-02) blank.
	ctx := context.Background()
	raw, pivot := newTables(t)
	pivot.Write(ctx, 1, 1, [][]string{
		{"Keyword", "2024-01-01"},
		{"a", "5"},
		{"b", "8"},
	})

	r := New(raw, pivot, fixedNow, slog.Default())
	n, err := r.Merge(ctx, nil, []Observation{
		{ASIN: "B000TEST00", Keyword: "a", Date: "2024-01-02", OrganicRank: 3},
		{ASIN: "B000TEST00", Keyword: "c", Date: "2024-01-02", OrganicRank: 1},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if n != 2 {
		t.Fatalf("accepted: got %d, want 2", n)
	}

	cells, err := pivot.Read(ctx, 1, 1, 4, 3)
	if err != nil {
		t.Fatalf("read pivot: %v", err)
	}
	if cells[0][2] != "2024-01-02" {
		t.Errorf("new date column: got %q", cells[0][2])
	}
	if cells[1][0] != "a" || cells[1][2] != "3" {
		t.Errorf("row a: %v", cells[1])
	}
	if cells[2][0] != "b" || cells[2][2] != "" {
		t.Errorf("row b should stay blank for new date: %v", cells[2])
	}
	if cells[3][0] != "c" || cells[3][2] != "1" {
		t.Errorf("row c: %v", cells[3])
	}
	// Old column untouched.
	if cells[1][1] != "5" || cells[3][1] != "" {
		t.Errorf("2024-01-01 column changed: %v", cells)
	}
}

func TestMergeUnrankedSkipsPivot(t *testing.T) {
	// WHAT: A zero organic rank enters the raw log but never the pivot.
	// WHY: The pivot is a sparse matrix of qualifying ranks only; blanks mean
	// "no qualifying rank", never "rank zero".
	ctx := context.Background()
	raw, pivot := newTables(t)
	r := New(raw, pivot, fixedNow, slog.Default())

	n, err := r.Merge(ctx, nil, []Observation{{
		ASIN: "B000TEST00", Keyword: "sponsored only", Date: "2024-01-02",
		OrganicRank: 0, SponsoredRank: 4,
	}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if n != 1 {
		t.Fatalf("accepted: got %d, want 1", n)
	}
	rows, _, _ := raw.Dims(ctx)
	if rows != 2 {
		t.Errorf("raw rows: got %d, want 2", rows)
	}
	prows, _, _ := pivot.Dims(ctx)
	if prows != 0 {
		t.Errorf("pivot rows: got %d, want 0 (untouched)", prows)
	}
}

func TestMergeCompetitorColumns(t *testing.T) {
	// WHAT: Competitor ASINs get raw log columns in config order, blank when
	// the competitor is unranked for the keyword.
	ctx := context.Background()
	raw, pivot := newTables(t)
	r := New(raw, pivot, fixedNow, slog.Default())

	_, err := r.Merge(ctx, []string{"B000COMP01", "B000COMP02"}, []Observation{{
		ASIN: "B000TEST00", Keyword: "garlic press", Date: "2024-01-02",
		OrganicRank:     3,
		CompetitorRanks: map[string]int{"B000COMP02": 11},
	}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	cells, _ := raw.Read(ctx, 1, 1, 2, 11)
	if cells[0][9] != "B000COMP01" || cells[0][10] != "B000COMP02" {
		t.Errorf("competitor headers: %v", cells[0])
	}
	if cells[1][9] != "" || cells[1][10] != "11" {
		t.Errorf("competitor cells: %v", cells[1])
	}
}
