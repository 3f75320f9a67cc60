// Package tracker orchestrates the keyword rank and search-volume runs:
// fetching from the Jungle Scout API, reconciling the workbook tables, and
// recording run history.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rankwatch/grid"
	"rankwatch/tracker/internal/impress"
	"rankwatch/tracker/internal/jsapi"
	"rankwatch/tracker/internal/rank"
	"rankwatch/tracker/internal/runlog"
	"rankwatch/tracker/internal/volume"
)

// Workbook table names.
const (
	TableASINs       = "ASINs"
	TableRawRank     = "Raw Rank Data"
	TableRankByDay   = "Rank by Day"
	TableVolume      = "Keyword Volume"
	TableImpressions = "Organic Impressions"
)

// maxFeedRecords caps the paginated keyword feed walk.
const maxFeedRecords = 2000

// API is the slice of the Jungle Scout client the operations use.
type API interface {
	KeywordsByASIN(ctx context.Context, asins []string, opts jsapi.QueryOptions) ([]jsapi.Record, error)
	HistoricalVolume(ctx context.Context, keyword, startDate, endDate string) ([]jsapi.WeekVolume, error)
}

// ChartRenderer renders the impressions chart into the workbook.
type ChartRenderer interface {
	Render(ctx context.Context) error
}

// Flusher is implemented by stores that persist to disk on demand.
type Flusher interface {
	Save() error
}

// Service is the main rankwatch orchestrator.
type Service struct {
	store   grid.Store
	config  *Config
	logger  *slog.Logger
	runs    *runlog.Store
	metrics *Metrics
	charts  []ChartRenderer
	now     func() time.Time
	newAPI  func(marketplace string) API

	// running serializes operations across every trigger source (HTTP and
	// scheduler). Each operation is a whole sequential run; a concurrent
	// trigger gets ErrRunInProgress instead of queueing.
	running sync.Mutex
}

// ApplySchema creates the run-log tables on a database.
func ApplySchema(db *sql.DB) error {
	return runlog.ApplySchema(db)
}

// New creates a Service.
func New(cfg *Config, store grid.Store, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return nil, fmt.Errorf("tracker: store is required")
	}

	svc := &Service{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	svc.newAPI = func(marketplace string) API {
		return jsapi.New(jsapi.Config{
			BaseURL:     cfg.API.BaseURL,
			KeyName:     cfg.API.KeyName,
			Key:         cfg.API.Key,
			Marketplace: marketplace,
			Timeout:     cfg.APITimeout(),
			PageSize:    cfg.API.PageSize,
		}, logger)
	}

	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithRunLog records run history in the given database. Apply the schema
// with ApplySchema first.
func WithRunLog(db *sql.DB) ServiceOption {
	return func(svc *Service) { svc.runs = runlog.NewStore(db) }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) ServiceOption {
	return func(svc *Service) { svc.metrics = m }
}

// WithChartRenderer adds a chart sink; apply it once per sink. Without any,
// RenderCharts is a logged no-op (the memory backend has nowhere to draw).
func WithChartRenderer(cr ChartRenderer) ServiceOption {
	return func(svc *Service) { svc.charts = append(svc.charts, cr) }
}

// WithClock overrides the time source. Use in tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithAPIFactory overrides Jungle Scout client construction. Use in tests.
func WithAPIFactory(fn func(marketplace string) API) ServiceOption {
	return func(svc *Service) { svc.newAPI = fn }
}

// Metrics returns the configured instruments, or nil.
func (svc *Service) Metrics() *Metrics { return svc.metrics }

// --- Operations ---

// FetchKeywords populates the keyword listing region of the ASINs table from
// the paginated feed. With existing data and force unset it returns
// ErrWouldOverwrite without touching the table.
func (svc *Service) FetchKeywords(ctx context.Context, force bool) (int, error) {
	return svc.run(ctx, "keywords", "manual", func(ctx context.Context) (int, error) {
		return svc.fetchKeywords(ctx, force)
	})
}

// FetchRankingData fetches the current rank snapshot and merges it into the
// raw log and the rank-by-day pivot.
func (svc *Service) FetchRankingData(ctx context.Context) (int, error) {
	return svc.run(ctx, "rankings", "manual", svc.fetchRankingData)
}

// FetchHistoricalVolumes reconciles the weekly search-volume table with the
// API history for every tracked keyword.
func (svc *Service) FetchHistoricalVolumes(ctx context.Context) (int, error) {
	return svc.run(ctx, "volumes", "manual", svc.fetchHistoricalVolumes)
}

// ComputeImpressions recomputes the estimated-impressions table from the rank
// and volume tables.
func (svc *Service) ComputeImpressions(ctx context.Context) (int, error) {
	return svc.run(ctx, "impressions", "manual", svc.computeImpressions)
}

// RenderCharts redraws the impressions chart sheet.
func (svc *Service) RenderCharts(ctx context.Context) (int, error) {
	return svc.run(ctx, "charts", "manual", svc.renderCharts)
}

// RunChain executes rankings, volumes, impressions and charts in order,
// stopping at the first failure. Used by the scheduler.
func (svc *Service) RunChain(ctx context.Context) error {
	steps := []struct {
		operation string
		fn        func(context.Context) (int, error)
	}{
		{"rankings", svc.fetchRankingData},
		{"volumes", svc.fetchHistoricalVolumes},
		{"impressions", svc.computeImpressions},
		{"charts", svc.renderCharts},
	}
	for _, step := range steps {
		if _, err := svc.run(ctx, step.operation, "schedule", step.fn); err != nil {
			return fmt.Errorf("%s: %w", step.operation, err)
		}
	}
	return nil
}

// run wraps an operation with run-log, metrics and save bookkeeping.
// Run-log writes are best-effort and never fail the operation.
func (svc *Service) run(ctx context.Context, operation, trigger string, fn func(context.Context) (int, error)) (int, error) {
	if !svc.running.TryLock() {
		return 0, ErrRunInProgress
	}
	defer svc.running.Unlock()

	start := svc.now()

	var runID string
	if svc.runs != nil {
		id, err := svc.runs.StartRun(ctx, operation, trigger)
		if err != nil {
			svc.logger.Warn("run log: start", "operation", operation, "error", err)
		} else {
			runID = id
		}
	}

	records, err := fn(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	svc.metrics.observeRun(operation, status, records, svc.now().Sub(start).Seconds())
	if runID != "" {
		if logErr := svc.runs.FinishRun(ctx, runID, records, err); logErr != nil {
			svc.logger.Warn("run log: finish", "operation", operation, "error", logErr)
		}
	}

	if err != nil {
		svc.logger.Error("run failed", "operation", operation, "records", records, "error", err)
		return records, err
	}

	if f, ok := svc.store.(Flusher); ok {
		if saveErr := f.Save(); saveErr != nil {
			svc.logger.Error("save workbook", "operation", operation, "error", saveErr)
			return records, fmt.Errorf("save workbook: %w", saveErr)
		}
	}
	svc.logger.Info("run complete", "operation", operation, "records", records,
		"duration_ms", svc.now().Sub(start).Milliseconds())
	return records, nil
}

func (svc *Service) fetchKeywords(ctx context.Context, force bool) (int, error) {
	asinsTable, err := svc.store.Table(TableASINs)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableASINs, err)
	}
	settings, err := ReadSettings(ctx, asinsTable)
	if err != nil {
		return 0, err
	}
	if settings.PrimaryASIN == "" {
		return 0, ErrNoPrimaryASIN
	}

	rows, err := keywordRegionRows(ctx, asinsTable)
	if err != nil {
		return 0, err
	}
	if rows > 0 && !force {
		return 0, ErrWouldOverwrite
	}

	records, fetchErr := svc.fetchFeed(ctx, settings)
	if fetchErr != nil {
		svc.logger.Warn("keyword feed: partial batch", "records", len(records), "error", fetchErr)
	}

	if err := writeKeywordRegion(ctx, asinsTable, rows, records); err != nil {
		return 0, err
	}
	return len(records), fetchErr
}

func (svc *Service) fetchRankingData(ctx context.Context) (int, error) {
	asinsTable, err := svc.store.Table(TableASINs)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableASINs, err)
	}
	settings, err := ReadSettings(ctx, asinsTable)
	if err != nil {
		return 0, err
	}
	if settings.PrimaryASIN == "" {
		return 0, ErrNoPrimaryASIN
	}

	records, fetchErr := svc.fetchFeed(ctx, settings)
	if fetchErr != nil {
		svc.logger.Warn("rank feed: partial batch", "records", len(records), "error", fetchErr)
	}
	if len(records) == 0 {
		return 0, fetchErr
	}

	raw, err := svc.store.Table(TableRawRank)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableRawRank, err)
	}
	pivot, err := svc.store.Table(TableRankByDay)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableRankByDay, err)
	}

	obs := make([]rank.Observation, 0, len(records))
	today := svc.now().Format(grid.DateLayout)
	for _, rec := range records {
		obs = append(obs, observationFrom(settings.PrimaryASIN, today, rec))
	}

	merged, err := rank.New(raw, pivot, svc.now, svc.logger).Merge(ctx, settings.CompetitorASINs, obs)
	if err != nil {
		return merged, err
	}
	return merged, fetchErr
}

func (svc *Service) fetchHistoricalVolumes(ctx context.Context) (int, error) {
	asinsTable, err := svc.store.Table(TableASINs)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableASINs, err)
	}
	settings, err := ReadSettings(ctx, asinsTable)
	if err != nil {
		return 0, err
	}

	rankTable, err := svc.store.Table(TableRankByDay)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableRankByDay, err)
	}
	volTable, err := svc.store.Table(TableVolume)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableVolume, err)
	}

	rec := volume.New(rankTable, volTable, svc.newAPI(settings.Marketplace), svc.now, svc.logger)
	rec.SetFetchLog(func(keyword string, weeks int, fetchErr error) {
		svc.metrics.observeKeywordFetch(fetchErr)
	})
	return rec.Run(ctx)
}

func (svc *Service) computeImpressions(ctx context.Context) (int, error) {
	rankTable, err := svc.store.Table(TableRankByDay)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableRankByDay, err)
	}
	volTable, err := svc.store.Table(TableVolume)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableVolume, err)
	}
	out, err := svc.store.Table(TableImpressions)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", TableImpressions, err)
	}
	return impress.New(rankTable, volTable, out, svc.logger).Run(ctx)
}

func (svc *Service) renderCharts(ctx context.Context) (int, error) {
	if len(svc.charts) == 0 {
		svc.logger.Info("charts: no renderer configured, skipping")
		return 0, nil
	}
	for _, cr := range svc.charts {
		if err := cr.Render(ctx); err != nil {
			return 0, fmt.Errorf("render charts: %w", err)
		}
	}
	return len(svc.charts), nil
}

// fetchFeed walks the keyword feed for all tracked ASINs with the operator's
// volume floor and ranked-only filters applied.
func (svc *Service) fetchFeed(ctx context.Context, settings Settings) ([]jsapi.Record, error) {
	api := svc.newAPI(settings.Marketplace)
	opts := jsapi.QueryOptions{
		MaxRecords: maxFeedRecords,
		// The feed is sorted by exact volume descending, so the first record
		// below the floor ends the whole walk.
		Stop: func(rec jsapi.Record) bool {
			return rec.MonthlyVolumeExact < settings.VolumeFloor
		},
	}
	if settings.RankedOnly {
		// A keyword counts as ranked when it holds either rank; only fully
		// unranked keywords are dropped.
		opts.Skip = func(rec jsapi.Record) bool {
			return rec.OrganicRank < 1 && rec.SponsoredRank < 1
		}
	}
	return api.KeywordsByASIN(ctx, settings.ASINs(), opts)
}

// observationFrom maps a feed record onto a rank observation. The date comes
// from the record's update stamp when present, else today.
func observationFrom(asin, today string, rec jsapi.Record) rank.Observation {
	date := today
	if len(rec.UpdatedAt) >= len(grid.DateLayout) {
		date = rec.UpdatedAt[:len(grid.DateLayout)]
	}
	competitors := make(map[string]int, len(rec.CompetitorRanks))
	for _, cr := range rec.CompetitorRanks {
		competitors[cr.ASIN] = cr.OrganicRank
	}
	return rank.Observation{
		ASIN:            asin,
		Keyword:         rec.Name,
		Date:            date,
		OrganicRank:     rec.OrganicRank,
		SponsoredRank:   rec.SponsoredRank,
		OverallRank:     rec.OverallRank,
		BidExact:        rec.PPCBidExact,
		BidBroad:        rec.PPCBidBroad,
		Volume30d:       rec.MonthlyVolumeExact,
		CompetitorRanks: competitors,
	}
}

// keywordRegionRows counts the populated rows in the keyword listing region.
func keywordRegionRows(ctx context.Context, t grid.Table) (int, error) {
	numRows, _, err := t.Dims(ctx)
	if err != nil {
		return 0, fmt.Errorf("settings dims: %w", err)
	}
	if numRows < keywordFirstRow {
		return 0, nil
	}
	cells, err := t.Read(ctx, keywordFirstRow, keywordFirstCol, numRows-keywordFirstRow+1, 1)
	if err != nil {
		return 0, fmt.Errorf("read keyword region: %w", err)
	}
	count := 0
	for _, row := range cells {
		if len(row) > 0 && row[0] != "" {
			count++
		}
	}
	return count, nil
}

// writeKeywordRegion replaces the keyword listing region with the fetched
// records: name, organic rank, avg competitor organic rank, sponsored rank,
// avg competitor sponsored rank, exact volume, broad volume.
func writeKeywordRegion(ctx context.Context, t grid.Table, oldRows int, records []jsapi.Record) error {
	rows := make([][]string, 0, max(oldRows, len(records)))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Name,
			fmt.Sprintf("%d", rec.OrganicRank),
			fmt.Sprintf("%.1f", rec.AvgCompetitorOrganicRank),
			fmt.Sprintf("%d", rec.SponsoredRank),
			fmt.Sprintf("%.1f", rec.AvgCompetitorSponsoredRank),
			fmt.Sprintf("%d", rec.MonthlyVolumeExact),
			fmt.Sprintf("%d", rec.MonthlyVolumeBroad),
		})
	}
	// Blank out leftover rows from a previous, longer listing.
	for len(rows) < oldRows {
		rows = append(rows, make([]string, keywordCols))
	}
	if len(rows) == 0 {
		return nil
	}
	if err := t.Write(ctx, keywordFirstRow, keywordFirstCol, rows); err != nil {
		return fmt.Errorf("write keyword region: %w", err)
	}
	return nil
}
