// Package impress derives daily organic impression estimates by joining the
// daily rank table against the weekly volume table.
//
// The two series evolve independently and at different granularities. A day
// matches the unique volume week whose [start, end] interval contains it;
// dates past the newest available volume week are excluded from the output
// entirely rather than zero-filled. The output table is fully recomputed on
// every run.
package impress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"rankwatch/grid"
)

// Multiplier maps an organic rank to its estimated click-through share of a
// day's searches. Monotonic non-increasing over rank; 0 for unranked or
// beyond rank 100.
func Multiplier(rank int) float64 {
	switch {
	case rank == 1:
		return 0.8
	case rank == 2:
		return 0.7
	case rank >= 3 && rank <= 6:
		return 0.6
	case rank == 7:
		return 0.4
	case rank >= 8 && rank <= 10:
		return 0.3
	case rank >= 11 && rank <= 13:
		return 0.09
	case rank >= 14 && rank <= 18:
		return 0.07
	case rank >= 19 && rank <= 23:
		return 0.05
	case rank >= 24 && rank <= 28:
		return 0.03
	case rank >= 29 && rank <= 33:
		return 0.01
	case rank >= 34 && rank <= 38:
		return 0.007
	case rank >= 39 && rank <= 43:
		return 0.005
	case rank >= 44 && rank <= 48:
		return 0.003
	case rank >= 49 && rank <= 100:
		return 0.001
	default:
		return 0
	}
}

// Estimator recomputes the organic impressions table.
type Estimator struct {
	rank   grid.Table
	vol    grid.Table
	out    grid.Table
	logger *slog.Logger
}

// New creates an Estimator reading from the rank and volume tables and
// writing to out.
func New(rank, vol, out grid.Table, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{rank: rank, vol: vol, out: out, logger: logger}
}

// volumeWeek is one week column of the volume table with its per-keyword
// volumes keyed by row label.
type volumeWeek struct {
	start, end string
	byKeyword  map[string]int
}

// Run clears and repopulates the output table. Returns the number of keyword
// rows emitted.
func (e *Estimator) Run(ctx context.Context) (int, error) {
	keywords, dates, ranks, err := e.readRankTable(ctx)
	if err != nil {
		return 0, err
	}
	weeks, latestEnd, err := e.readVolumeTable(ctx)
	if err != nil {
		return 0, err
	}
	if latestEnd == "" {
		return 0, fmt.Errorf("volume table has no week history")
	}

	// Dates beyond available volume data are excluded, not zero-filled.
	// Header order is preserved as-is; it may be irregular.
	var cols []int
	for i, d := range dates {
		if d != "" && d <= latestEnd {
			cols = append(cols, i)
		}
	}

	if err := e.out.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear output: %w", err)
	}

	width := len(cols) + 2 // label + dates + total
	header := make([]string, 0, width)
	header = append(header, "Keywords/Dates")
	for _, i := range cols {
		header = append(header, dates[i])
	}
	header = append(header, "Total")

	rows := make([][]string, 0, len(keywords)+1)
	rows = append(rows, header)
	for ki, kw := range keywords {
		row := make([]string, 0, width)
		row = append(row, kw)
		for _, di := range cols {
			row = append(row, e.estimate(kw, ranks[ki][di], dates[di], weeks))
		}
		// Live row total over the date columns so downstream edits keep
		// totals current.
		outRow := len(rows) + 1
		row = append(row, fmt.Sprintf("=SUM(B%d:%s%d)", outRow, grid.ColumnName(width-1), outRow))
		rows = append(rows, row)
	}

	if err := e.out.Write(ctx, 1, 1, rows); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}
	e.logger.Info("impressions recomputed", "keywords", len(keywords), "dates", len(cols))
	return len(keywords), nil
}

// estimate computes one cell. A date with no containing volume week stays
// blank (defensive; the date filter should prevent it). A blank rank means
// unranked, multiplier 0.
func (e *Estimator) estimate(keyword, rankCell, date string, weeks []volumeWeek) string {
	wi := -1
	for i, w := range weeks {
		if w.start <= date && date <= w.end {
			wi = i
			break
		}
	}
	if wi < 0 {
		return ""
	}
	rank := 0
	if rankCell != "" {
		if n, err := strconv.Atoi(rankCell); err == nil {
			rank = n
		}
	}
	vol := weeks[wi].byKeyword[keyword]
	daily := math.Round(float64(vol) / 7 * Multiplier(rank))
	return strconv.Itoa(int(daily))
}

func (e *Estimator) readRankTable(ctx context.Context) (keywords, dates []string, ranks [][]string, err error) {
	rows, cols, err := e.rank.Dims(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rank dims: %w", err)
	}
	if rows < 2 || cols < 2 {
		return nil, nil, nil, fmt.Errorf("rank table has no data")
	}
	cells, err := e.rank.Read(ctx, 1, 1, rows, cols)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read rank table: %w", err)
	}
	dates = cells[0][1:]
	for _, row := range cells[1:] {
		if row[0] == "" {
			continue
		}
		keywords = append(keywords, row[0])
		ranks = append(ranks, row[1:])
	}
	return keywords, dates, ranks, nil
}

// readVolumeTable loads week intervals with per-keyword volumes keyed by the
// volume table's own row labels, and the newest week end across all columns.
func (e *Estimator) readVolumeTable(ctx context.Context) ([]volumeWeek, string, error) {
	rows, cols, err := e.vol.Dims(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("volume dims: %w", err)
	}
	if rows < 2 || cols < 2 {
		return nil, "", fmt.Errorf("volume table has no data")
	}
	cells, err := e.vol.Read(ctx, 1, 1, rows, cols)
	if err != nil {
		return nil, "", fmt.Errorf("read volume table: %w", err)
	}

	var weeks []volumeWeek
	latestEnd := ""
	for c := 1; c < cols; c++ {
		start, end := cells[0][c], cells[1][c]
		if start == "" || end == "" {
			continue
		}
		w := volumeWeek{start: start, end: end, byKeyword: make(map[string]int)}
		for r := 2; r < rows; r++ {
			kw := cells[r][0]
			if kw == "" {
				continue
			}
			if n, err := strconv.Atoi(cells[r][c]); err == nil {
				w.byKeyword[kw] = n
			}
		}
		weeks = append(weeks, w)
		if end > latestEnd {
			latestEnd = end
		}
	}
	return weeks, latestEnd, nil
}
