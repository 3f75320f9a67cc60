// Package volume reconciles weekly historical search volumes into the
// keyword volume table.
//
// The table's layout mirrors the source feed: row 1 carries week start
// dates, row 2 week end dates, keywords run down column A from row 3. Week
// columns sit newest-first immediately after the label column; catching up
// with the source means inserting the gap's worth of columns before column 2
// and filling only those for keywords that already have history.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"rankwatch/grid"
	"rankwatch/tracker/internal/jsapi"
)

const (
	headerStartRow = 1 // week start dates
	headerEndRow   = 2 // week end dates
	firstDataRow   = 3
	firstWeekCol   = 2

	// historyDays is the request window for full keyword history.
	historyDays = 120

	// sampleFallbackKeyword probes the source's most recent available week
	// when the rank table has no keywords yet.
	sampleFallbackKeyword = "garlic press"
)

// Fetcher is the slice of the API client this reconciler needs.
type Fetcher interface {
	HistoricalVolume(ctx context.Context, keyword, startDate, endDate string) ([]jsapi.WeekVolume, error)
}

// FetchLog receives the outcome of each per-keyword fetch. Optional.
type FetchLog func(keyword string, weeks int, err error)

// Reconciler fills the keyword volume table from the historical endpoint.
type Reconciler struct {
	rank     grid.Table // keyword universe source (rank-by-day)
	vol      grid.Table // keyword volume target
	api      Fetcher
	now      func() time.Time
	logger   *slog.Logger
	fetchLog FetchLog
}

// New creates a Reconciler.
func New(rank, vol grid.Table, api Fetcher, now func() time.Time, logger *slog.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{rank: rank, vol: vol, api: api, now: now, logger: logger}
}

// SetFetchLog installs a per-keyword fetch outcome callback.
func (r *Reconciler) SetFetchLog(fn FetchLog) { r.fetchLog = fn }

// Run performs one whole reconciliation pass. Returns the number of keyword
// rows that received data.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	keywords, err := grid.RowLabels(ctx, r.rank, 1, 2)
	if err != nil {
		return 0, fmt.Errorf("rank keywords: %w", err)
	}

	existingSet := make(map[string]bool)
	existingLabels, err := grid.RowLabels(ctx, r.vol, 1, firstDataRow)
	if err != nil {
		return 0, fmt.Errorf("volume keywords: %w", err)
	}
	for _, kw := range existingLabels {
		existingSet[kw] = true
	}
	var newKeywords, existingKeywords []string
	for _, kw := range keywords {
		if existingSet[kw] {
			existingKeywords = append(existingKeywords, kw)
		} else {
			newKeywords = append(newKeywords, kw)
		}
	}
	r.logger.Info("volume: keyword partition",
		"new", len(newKeywords), "existing", len(existingKeywords))

	end := r.now()
	start := end.AddDate(0, 0, -historyDays)
	startDate := start.Format(grid.DateLayout)
	endDate := end.Format(grid.DateLayout)

	// Probe one keyword's history to learn the source's latest week.
	sample := sampleFallbackKeyword
	if len(keywords) > 0 {
		sample = keywords[0]
	}
	sampleData, err := r.api.HistoricalVolume(ctx, sample, startDate, endDate)
	if err != nil {
		// Degrade to "no newer source data": no columns are inserted, and
		// keywords without history are still attempted below.
		r.logger.Warn("volume: sample history fetch failed", "keyword", sample, "error", err)
		sampleData = nil
	}
	sortByEndDesc(sampleData)

	apiEnd := ""
	if len(sampleData) > 0 {
		apiEnd = sampleData[0].EndDate
	} else {
		r.logger.Warn("volume: no sample data, cannot determine source latest week", "keyword", sample)
	}

	existingEnd, err := r.existingLatestEnd(ctx)
	if err != nil {
		return 0, err
	}

	diffWeeks := 0
	switch {
	case existingEnd == "":
		r.logger.Info("volume: empty table, stamping full header history", "weeks", len(sampleData))
		if err := r.writeHeaders(ctx, sampleData, firstWeekCol); err != nil {
			return 0, err
		}
	case apiEnd != "" && existingEnd < apiEnd:
		diffWeeks, err = grid.WeekGap(existingEnd, apiEnd)
		if err != nil {
			return 0, fmt.Errorf("week gap: %w", err)
		}
		r.logger.Info("volume: source has newer weeks", "existing_end", existingEnd,
			"api_end", apiEnd, "columns", diffWeeks)
		if err := r.vol.InsertColsBefore(ctx, firstWeekCol, diffWeeks); err != nil {
			return 0, fmt.Errorf("insert week columns: %w", err)
		}
		if err := r.writeHeaders(ctx, sampleData[:min(diffWeeks, len(sampleData))], firstWeekCol); err != nil {
			return 0, err
		}
	default:
		r.logger.Info("volume: no newer source data", "existing_end", existingEnd, "api_end", apiEnd)
	}

	updated := 0

	// Existing keywords only need the gap's worth of newest weeks.
	if diffWeeks > 0 {
		n, err := r.fillKeywords(ctx, existingKeywords, existingEnd, endDate, diffWeeks)
		if err != nil {
			return updated, err
		}
		updated += n
	}

	// New keywords get their full requested history.
	if len(newKeywords) > 0 {
		n, err := r.fillKeywords(ctx, newKeywords, startDate, endDate, 0)
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, nil
}

// existingLatestEnd reads the most recent known week end (row 2, first week
// column). Empty string means the table holds no week history yet.
func (r *Reconciler) existingLatestEnd(ctx context.Context) (string, error) {
	rows, cols, err := r.vol.Dims(ctx)
	if err != nil {
		return "", fmt.Errorf("volume dims: %w", err)
	}
	if rows < headerEndRow || cols < firstWeekCol {
		return "", nil
	}
	region, err := r.vol.Read(ctx, headerEndRow, firstWeekCol, 1, 1)
	if err != nil {
		return "", fmt.Errorf("read latest week end: %w", err)
	}
	return region[0][0], nil
}

// writeHeaders stamps week start/end header cells newest-first from col, and
// the label cells in column A.
func (r *Reconciler) writeHeaders(ctx context.Context, weeks []jsapi.WeekVolume, col int) error {
	if len(weeks) == 0 {
		r.logger.Warn("volume: no week data to stamp headers with")
		return nil
	}
	starts := make([]string, len(weeks))
	ends := make([]string, len(weeks))
	for i, w := range weeks {
		starts[i] = w.StartDate
		ends[i] = w.EndDate
	}
	if err := r.vol.Write(ctx, headerStartRow, col, [][]string{starts, ends}); err != nil {
		return fmt.Errorf("write week headers: %w", err)
	}
	if err := r.vol.Write(ctx, headerStartRow, 1, [][]string{{"Week Starting"}, {"Week Ending"}}); err != nil {
		return fmt.Errorf("write header labels: %w", err)
	}
	return nil
}

// fillKeywords fetches each keyword's history and writes it newest-first from
// the first week column. trim > 0 keeps only the trim most recent periods.
// A keyword yielding zero periods is logged and left blank; it stays a row
// without data and is retried on the next run.
func (r *Reconciler) fillKeywords(ctx context.Context, keywords []string, startDate, endDate string, trim int) (int, error) {
	updated := 0
	for _, kw := range keywords {
		weeks, err := r.api.HistoricalVolume(ctx, kw, startDate, endDate)
		if r.fetchLog != nil {
			r.fetchLog(kw, len(weeks), err)
		}
		if err != nil {
			r.logger.Warn("volume: fetch failed, keyword skipped", "keyword", kw, "error", err)
			continue
		}
		if len(weeks) == 0 {
			r.logger.Warn("volume: no periods for keyword, left blank", "keyword", kw)
			continue
		}
		weeks = TrimNewest(weeks, trim)

		row, _, err := grid.FindOrAppendRow(ctx, r.vol, 1, firstDataRow, kw)
		if err != nil {
			return updated, fmt.Errorf("keyword row %q: %w", kw, err)
		}
		cells := make([]string, len(weeks))
		for i, w := range weeks {
			cells[i] = strconv.Itoa(w.Volume)
		}
		if err := r.vol.Write(ctx, row, firstWeekCol, [][]string{cells}); err != nil {
			return updated, fmt.Errorf("write volumes for %q: %w", kw, err)
		}
		updated++
	}
	return updated, nil
}

// TrimNewest keeps the n periods with the greatest end date, returned
// newest-first to match the table's column order. n <= 0 keeps everything.
func TrimNewest(weeks []jsapi.WeekVolume, n int) []jsapi.WeekVolume {
	out := append([]jsapi.WeekVolume(nil), weeks...)
	sortByEndDesc(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func sortByEndDesc(weeks []jsapi.WeekVolume) {
	sort.SliceStable(weeks, func(i, j int) bool {
		return weeks[i].EndDate > weeks[j].EndDate
	})
}
