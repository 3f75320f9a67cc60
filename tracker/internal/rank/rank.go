// Package rank merges fetched ranking snapshots into the append-only raw
// rank log and the pivoted rank-by-day table.
//
// Both tables live in the shared table store. The merge reads each table
// once, applies all changes in memory, and writes back in batched calls, so
// re-running the same batch is idempotent: dedup keys are checked before any
// row or column is created.
package rank

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"rankwatch/grid"
)

// Observation is one (asin, keyword, date) ranking snapshot. Ranks of 0 mean
// unranked.
type Observation struct {
	ASIN            string
	Keyword         string
	Date            string // yyyy-mm-dd
	OrganicRank     int
	SponsoredRank   int
	OverallRank     int
	BidExact        float64
	BidBroad        float64
	Volume30d       int
	CompetitorRanks map[string]int // competitor ASIN -> organic rank
}

// Raw log column layout (1-based). Competitor ASIN columns follow Volume30d.
const (
	colASIN = iota + 1
	colKeyword
	colDate
	colOrganic
	colSponsored
	colOverall
	colBidExact
	colBidBroad
	colVolume30d
	rawBaseCols = colVolume30d
)

var rawHeaders = []string{
	"ASIN", "Keyword", "Date", "Organic Rank", "Sponsored Rank",
	"Overall Rank", "Exact Bid", "Broad Bid", "30-Day Volume",
}

// recencyWindow is how far back an observation date may lie and still be
// merged. Older snapshots are stale repeats of data the feed already served.
const recencyWindow = 7 * 24 * time.Hour

// Reconciler merges observations into the raw log and pivot tables.
type Reconciler struct {
	raw    grid.Table
	pivot  grid.Table
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Reconciler. now is injectable for the recency filter.
func New(raw, pivot grid.Table, now func() time.Time, logger *slog.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{raw: raw, pivot: pivot, now: now, logger: logger}
}

// Merge appends accepted observations to the raw log and updates the pivot.
// An observation is accepted only if its date strictly exceeds the newest raw
// log date for the same keyword and lies within the recency window. Rejected
// observations are logged and skipped, never errors.
func (r *Reconciler) Merge(ctx context.Context, competitorASINs []string, obs []Observation) (int, error) {
	rows, cols, err := r.raw.Dims(ctx)
	if err != nil {
		return 0, fmt.Errorf("raw dims: %w", err)
	}

	var existing [][]string
	if rows > 0 {
		existing, err = r.raw.Read(ctx, 1, 1, rows, max(cols, rawBaseCols))
		if err != nil {
			return 0, fmt.Errorf("read raw log: %w", err)
		}
	}

	// Newest stored date per keyword, from the raw log.
	latest := make(map[string]string)
	for i, row := range existing {
		if i == 0 {
			continue // header
		}
		kw, date := row[colKeyword-1], row[colDate-1]
		if kw == "" {
			continue
		}
		if date > latest[kw] {
			latest[kw] = date
		}
	}

	cutoff := r.now().Add(-recencyWindow).Format(grid.DateLayout)

	var accepted []Observation
	for _, o := range obs {
		if prev, ok := latest[o.Keyword]; ok && o.Date <= prev {
			r.logger.Debug("rank: already merged", "keyword", o.Keyword, "date", o.Date, "latest", prev)
			continue
		}
		if o.Date < cutoff {
			r.logger.Info("rank: observation outside recency window",
				"keyword", o.Keyword, "date", o.Date, "cutoff", cutoff)
			continue
		}
		accepted = append(accepted, o)
		latest[o.Keyword] = o.Date
	}
	if len(accepted) == 0 {
		r.logger.Info("rank: no new observations to merge")
		return 0, nil
	}

	if err := r.appendRaw(ctx, existing, competitorASINs, accepted); err != nil {
		return 0, err
	}
	if err := r.updatePivot(ctx, accepted); err != nil {
		return 0, err
	}
	return len(accepted), nil
}

func (r *Reconciler) appendRaw(ctx context.Context, existing [][]string, competitorASINs []string, accepted []Observation) error {
	headers := append([]string(nil), rawHeaders...)
	for _, asin := range competitorASINs {
		headers = append(headers, asin)
	}

	// Stamp or extend the header row when competitor columns are new.
	curWidth := 0
	if len(existing) > 0 {
		for _, v := range existing[0] {
			if v != "" {
				curWidth++
			}
		}
	}
	if len(headers) > curWidth {
		if err := r.raw.Write(ctx, 1, 1, [][]string{headers}); err != nil {
			return fmt.Errorf("write raw headers: %w", err)
		}
	}

	rows := make([][]string, 0, len(accepted))
	for _, o := range accepted {
		row := []string{
			o.ASIN,
			o.Keyword,
			o.Date,
			rankCell(o.OrganicRank),
			rankCell(o.SponsoredRank),
			rankCell(o.OverallRank),
			formatBid(o.BidExact),
			formatBid(o.BidBroad),
			strconv.Itoa(o.Volume30d),
		}
		for _, asin := range competitorASINs {
			row = append(row, rankCell(o.CompetitorRanks[asin]))
		}
		rows = append(rows, row)
	}
	if err := r.raw.AppendRows(ctx, rows); err != nil {
		return fmt.Errorf("append raw rows: %w", err)
	}
	return nil
}

// updatePivot sets one cell per accepted observation with a qualifying
// organic rank. Date columns append in first-seen order; keyword rows append
// at the table end. Cells never touched stay blank, not zero.
func (r *Reconciler) updatePivot(ctx context.Context, accepted []Observation) error {
	rows, cols, err := r.pivot.Dims(ctx)
	if err != nil {
		return fmt.Errorf("pivot dims: %w", err)
	}

	var cells [][]string
	if rows > 0 {
		cells, err = r.pivot.Read(ctx, 1, 1, rows, cols)
		if err != nil {
			return fmt.Errorf("read pivot: %w", err)
		}
	}
	if len(cells) == 0 {
		cells = [][]string{{"Keyword"}}
	}

	header := cells[0]
	colOf := make(map[string]int, len(header))
	for i, h := range header {
		if h != "" {
			colOf[h] = i
		}
	}
	rowOf := make(map[string]int, len(cells))
	for i := 1; i < len(cells); i++ {
		if kw := cells[i][0]; kw != "" {
			rowOf[kw] = i
		}
	}

	width := len(header)
	setCell := func(row, col int, v string) {
		for len(cells[row]) < width {
			cells[row] = append(cells[row], "")
		}
		cells[row][col] = v
	}

	for _, o := range accepted {
		if o.OrganicRank <= 0 {
			r.logger.Debug("rank: unranked, pivot untouched", "keyword", o.Keyword, "date", o.Date)
			continue
		}
		col, ok := colOf[o.Date]
		if !ok {
			header = append(header, o.Date)
			cells[0] = header
			col = len(header) - 1
			colOf[o.Date] = col
			width = len(header)
		}
		row, ok := rowOf[o.Keyword]
		if !ok {
			newRow := make([]string, width)
			newRow[0] = o.Keyword
			cells = append(cells, newRow)
			row = len(cells) - 1
			rowOf[o.Keyword] = row
		}
		setCell(row, col, strconv.Itoa(o.OrganicRank))
	}

	// Rectangularize so the batched write covers every touched column.
	for i := range cells {
		for len(cells[i]) < width {
			cells[i] = append(cells[i], "")
		}
	}
	if err := r.pivot.Write(ctx, 1, 1, cells); err != nil {
		return fmt.Errorf("write pivot: %w", err)
	}
	return nil
}

func rankCell(rank int) string {
	if rank > 0 {
		return strconv.Itoa(rank)
	}
	return ""
}

func formatBid(bid float64) string {
	if bid == 0 {
		return ""
	}
	return strconv.FormatFloat(bid, 'f', 2, 64)
}
