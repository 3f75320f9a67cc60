package tracker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"rankwatch/dbopen"
	"rankwatch/grid"
	"rankwatch/tracker/internal/jsapi"
	"rankwatch/tracker/internal/runlog"
)

// fakeAPI serves a canned keyword feed and per-keyword week histories. The
// feed filters are applied the same way the real client applies them while
// walking pages.
type fakeAPI struct {
	feed    []jsapi.Record
	feedErr error
	history map[string][]jsapi.WeekVolume
	calls   [][]string
	onFeed  func()
}

func (f *fakeAPI) KeywordsByASIN(_ context.Context, asins []string, opts jsapi.QueryOptions) ([]jsapi.Record, error) {
	f.calls = append(f.calls, asins)
	if f.onFeed != nil {
		f.onFeed()
	}
	var out []jsapi.Record
	for _, rec := range f.feed {
		if opts.Stop != nil && opts.Stop(rec) {
			return out, f.feedErr
		}
		if opts.Skip != nil && opts.Skip(rec) {
			continue
		}
		out = append(out, rec)
		if opts.MaxRecords > 0 && len(out) >= opts.MaxRecords {
			break
		}
	}
	return out, f.feedErr
}

func (f *fakeAPI) HistoricalVolume(_ context.Context, keyword, _, _ string) ([]jsapi.WeekVolume, error) {
	return append([]jsapi.WeekVolume(nil), f.history[keyword]...), nil
}

var testClock = func() time.Time {
	return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
}

// newService builds a Service over a memory store with the operator settings
// already in place, wired to the given fake.
func newService(t *testing.T, api *fakeAPI, opts ...ServiceOption) (*Service, grid.Store) {
	t.Helper()
	return newServiceWithConfig(t, api, DefaultConfig(), opts...)
}

func newServiceWithConfig(t *testing.T, api *fakeAPI, cfg *Config, opts ...ServiceOption) (*Service, grid.Store) {
	t.Helper()
	store := grid.NewMemory()
	asins, err := store.Table(TableASINs)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	asins.Write(ctx, settingsPrimaryRow, settingsCol, [][]string{{"B0PRIMARY1"}})
	asins.Write(ctx, settingsCompetitorRow, settingsCol, [][]string{{"B0COMP0001"}})
	asins.Write(ctx, settingsFloorRow, settingsCol, [][]string{{"50"}})
	asins.Write(ctx, settingsRankedOnlyRow, settingsCol, [][]string{{"yes"}})

	opts = append([]ServiceOption{
		WithClock(testClock),
		WithAPIFactory(func(string) API { return api }),
	}, opts...)
	svc, err := New(cfg, store, slog.Default(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func testFeed() []jsapi.Record {
	return []jsapi.Record{
		{
			Name:                       "garlic press",
			OrganicRank:                1,
			SponsoredRank:              3,
			AvgCompetitorOrganicRank:   4.5,
			AvgCompetitorSponsoredRank: 6.0,
			MonthlyVolumeExact:         200,
			MonthlyVolumeBroad:         900,
			UpdatedAt:                  "2024-01-08T09:00:00Z",
			CompetitorRanks:            []jsapi.CompetitorRank{{ASIN: "B0COMP0001", OrganicRank: 12}},
		},
		{
			Name:               "steel garlic press",
			OrganicRank:        4,
			MonthlyVolumeExact: 120,
			MonthlyVolumeBroad: 400,
			UpdatedAt:          "2024-01-08T09:00:00Z",
		},
		{
			Name:               "crusher",
			OrganicRank:        0, // unranked, dropped by ranked-only
			MonthlyVolumeExact: 90,
			UpdatedAt:          "2024-01-08T09:00:00Z",
		},
		{
			Name:               "kitchen tool",
			OrganicRank:        9,
			MonthlyVolumeExact: 40, // below the floor, ends the walk
			UpdatedAt:          "2024-01-08T09:00:00Z",
		},
	}
}

func TestReadSettings(t *testing.T) {
	// WHAT: Settings parse out of the fixed column-B cells, with the
	// marketplace and floor falling back when their cells are blank.
	ctx := context.Background()
	store := grid.NewMemory()
	tbl, _ := store.Table(TableASINs)
	tbl.Write(ctx, settingsPrimaryRow, settingsCol, [][]string{{" B0PRIMARY1 "}})
	tbl.Write(ctx, settingsCompetitorRow, settingsCol, [][]string{
		{"B0COMP0001"}, {""}, {"B0COMP0002"},
	})
	tbl.Write(ctx, settingsRankedOnlyRow, settingsCol, [][]string{{"YES"}})

	s, err := ReadSettings(ctx, tbl)
	if err != nil {
		t.Fatal(err)
	}
	if s.PrimaryASIN != "B0PRIMARY1" {
		t.Errorf("PrimaryASIN = %q", s.PrimaryASIN)
	}
	if len(s.CompetitorASINs) != 2 {
		t.Errorf("CompetitorASINs = %v", s.CompetitorASINs)
	}
	if s.Marketplace != "us" {
		t.Errorf("Marketplace = %q", s.Marketplace)
	}
	if s.VolumeFloor != 1 {
		t.Errorf("VolumeFloor = %d", s.VolumeFloor)
	}
	if !s.RankedOnly {
		t.Error("RankedOnly should parse case-insensitively")
	}
	if got := s.ASINs(); len(got) != 3 || got[0] != "B0PRIMARY1" {
		t.Errorf("ASINs() = %v", got)
	}
}

func TestFetchKeywords(t *testing.T) {
	// WHAT: The listing region fills from the feed with the volume floor
	// ending the walk and ranked-only dropping unranked keywords.
	ctx := context.Background()
	api := &fakeAPI{feed: testFeed()}
	svc, store := newService(t, api)

	n, err := svc.FetchKeywords(ctx, false)
	if err != nil {
		t.Fatalf("fetch keywords: %v", err)
	}
	if n != 2 {
		t.Fatalf("records: got %d, want 2", n)
	}

	tbl, _ := store.Table(TableASINs)
	region, err := tbl.Read(ctx, keywordFirstRow, keywordFirstCol, 2, keywordCols)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"garlic press", "1", "4.5", "3", "6.0", "200", "900"}
	for i, w := range want {
		if region[0][i] != w {
			t.Errorf("row 1 col %d: got %q, want %q", i+1, region[0][i], w)
		}
	}
	if region[1][0] != "steel garlic press" {
		t.Errorf("row 2 keyword = %q", region[1][0])
	}

	if len(api.calls) != 1 || len(api.calls[0]) != 2 {
		t.Errorf("feed queried with %v, want primary plus competitor", api.calls)
	}
}

func TestFetchKeywords_Overwrite(t *testing.T) {
	// WHAT: A second fetch refuses to clobber the region unless forced, and
	// a forced shorter listing blanks the leftover rows.
	ctx := context.Background()
	api := &fakeAPI{feed: testFeed()}
	svc, store := newService(t, api)

	if _, err := svc.FetchKeywords(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.FetchKeywords(ctx, false); !errors.Is(err, ErrWouldOverwrite) {
		t.Fatalf("second fetch: got %v, want ErrWouldOverwrite", err)
	}

	api.feed = api.feed[:1]
	n, err := svc.FetchKeywords(ctx, true)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if n != 1 {
		t.Fatalf("records: got %d, want 1", n)
	}
	tbl, _ := store.Table(TableASINs)
	region, _ := tbl.Read(ctx, keywordFirstRow, keywordFirstCol, 2, 1)
	if region[0][0] != "garlic press" || region[1][0] != "" {
		t.Errorf("region after forced fetch: %v", region)
	}
}

func TestFetchKeywords_SponsoredOnlyKept(t *testing.T) {
	// WHAT: Ranked-only keeps keywords holding either rank; only fully
	// unranked keywords are dropped.
	ctx := context.Background()
	api := &fakeAPI{feed: []jsapi.Record{
		{
			Name:               "sponsored only",
			SponsoredRank:      4,
			MonthlyVolumeExact: 200,
			UpdatedAt:          "2024-01-08T09:00:00Z",
		},
		{
			Name:               "fully unranked",
			MonthlyVolumeExact: 150,
			UpdatedAt:          "2024-01-08T09:00:00Z",
		},
	}}
	svc, store := newService(t, api)

	n, err := svc.FetchKeywords(ctx, false)
	if err != nil {
		t.Fatalf("fetch keywords: %v", err)
	}
	if n != 1 {
		t.Fatalf("records: got %d, want 1", n)
	}
	tbl, _ := store.Table(TableASINs)
	region, err := tbl.Read(ctx, keywordFirstRow, keywordFirstCol, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if region[0][0] != "sponsored only" {
		t.Errorf("kept keyword = %q", region[0][0])
	}
}

func TestRunSerialization(t *testing.T) {
	// WHAT: One run at a time across all trigger sources; a concurrent
	// operation answers ErrRunInProgress instead of interleaving table
	// writes with the first.
	ctx := context.Background()
	api := &fakeAPI{feed: testFeed()}
	entered := make(chan struct{})
	release := make(chan struct{})
	api.onFeed = func() {
		close(entered)
		<-release
	}
	svc, _ := newService(t, api)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.FetchRankingData(ctx)
		errc <- err
	}()
	<-entered
	if _, err := svc.ComputeImpressions(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("concurrent run: got %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestFetchKeywords_NoPrimary(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{feed: testFeed()}
	svc, store := newService(t, api)

	tbl, _ := store.Table(TableASINs)
	tbl.Write(ctx, settingsPrimaryRow, settingsCol, [][]string{{""}})
	if _, err := svc.FetchKeywords(ctx, false); !errors.Is(err, ErrNoPrimaryASIN) {
		t.Fatalf("got %v, want ErrNoPrimaryASIN", err)
	}
}

func TestPipeline(t *testing.T) {
	// WHAT: rankings -> volumes -> impressions over one fixture produces a
	// pivot column for the record date, newest-first week columns, and
	// estimates of round(weekly/7 * multiplier).
	ctx := context.Background()
	api := &fakeAPI{
		feed: testFeed(),
		history: map[string][]jsapi.WeekVolume{
			"garlic press": {
				{StartDate: "2024-01-01", EndDate: "2024-01-07", Volume: 700},
				{StartDate: "2024-01-08", EndDate: "2024-01-14", Volume: 1400},
			},
			"steel garlic press": {
				{StartDate: "2024-01-01", EndDate: "2024-01-07", Volume: 350},
				{StartDate: "2024-01-08", EndDate: "2024-01-14", Volume: 700},
			},
		},
	}
	svc, store := newService(t, api)

	merged, err := svc.FetchRankingData(ctx)
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if merged != 2 {
		t.Fatalf("merged: got %d, want 2", merged)
	}
	pivot, _ := store.Table(TableRankByDay)
	cells, err := pivot.Read(ctx, 1, 1, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cells[0][1] != "2024-01-08" {
		t.Errorf("pivot date column = %q", cells[0][1])
	}
	if cells[1][0] != "garlic press" || cells[1][1] != "1" {
		t.Errorf("pivot row 2 = %v", cells[1])
	}
	if cells[2][0] != "steel garlic press" || cells[2][1] != "4" {
		t.Errorf("pivot row 3 = %v", cells[2])
	}

	// Re-running the same feed merges nothing: the dates are already logged.
	again, err := svc.FetchRankingData(ctx)
	if err != nil {
		t.Fatalf("rankings rerun: %v", err)
	}
	if again != 0 {
		t.Errorf("rerun merged %d, want 0", again)
	}

	updated, err := svc.FetchHistoricalVolumes(ctx)
	if err != nil {
		t.Fatalf("volumes: %v", err)
	}
	if updated != 2 {
		t.Fatalf("volume rows: got %d, want 2", updated)
	}
	vol, _ := store.Table(TableVolume)
	vcells, err := vol.Read(ctx, 1, 1, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if vcells[0][1] != "2024-01-08" || vcells[1][1] != "2024-01-14" {
		t.Errorf("newest week headers = %q/%q", vcells[0][1], vcells[1][1])
	}
	if vcells[2][0] != "garlic press" || vcells[2][1] != "1400" || vcells[2][2] != "700" {
		t.Errorf("garlic press volumes = %v", vcells[2])
	}

	n, err := svc.ComputeImpressions(ctx)
	if err != nil {
		t.Fatalf("impressions: %v", err)
	}
	if n != 2 {
		t.Fatalf("impression rows: got %d, want 2", n)
	}
	out, _ := store.Table(TableImpressions)
	ocells, err := out.Read(ctx, 1, 1, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ocells[0][0] != "Keywords/Dates" || ocells[0][1] != "2024-01-08" || ocells[0][2] != "Total" {
		t.Errorf("impressions header = %v", ocells[0])
	}
	// 1400/7 * 0.8 = 160 at rank 1; 700/7 * 0.6 = 60 at rank 4.
	if ocells[1][1] != "160" {
		t.Errorf("garlic press estimate = %q, want 160", ocells[1][1])
	}
	if ocells[2][1] != "60" {
		t.Errorf("steel garlic press estimate = %q, want 60", ocells[2][1])
	}
	if ocells[1][2] != "=SUM(B2:B2)" {
		t.Errorf("row total = %q", ocells[1][2])
	}
}

func TestRunChain(t *testing.T) {
	// WHAT: The scheduled chain records one ok run per step, with the charts
	// step a logged no-op when no renderer is wired.
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatal(err)
	}

	api := &fakeAPI{
		feed: testFeed(),
		history: map[string][]jsapi.WeekVolume{
			"garlic press": {
				{StartDate: "2024-01-08", EndDate: "2024-01-14", Volume: 1400},
			},
			"steel garlic press": {
				{StartDate: "2024-01-08", EndDate: "2024-01-14", Volume: 700},
			},
		},
	}
	svc, _ := newService(t, api, WithRunLog(db), WithMetrics(NewMetrics()))

	if err := svc.RunChain(ctx); err != nil {
		t.Fatalf("run chain: %v", err)
	}

	runs, err := runlog.NewStore(db).RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 4 {
		t.Fatalf("runs recorded: got %d, want 4", len(runs))
	}
	seen := make(map[string]bool)
	for _, run := range runs {
		if run.Status != "ok" {
			t.Errorf("run %s status = %q", run.Operation, run.Status)
		}
		if run.Trigger != "schedule" {
			t.Errorf("run %s trigger = %q", run.Operation, run.Trigger)
		}
		seen[run.Operation] = true
	}
	for _, op := range []string{"rankings", "volumes", "impressions", "charts"} {
		if !seen[op] {
			t.Errorf("missing run for %q", op)
		}
	}
}
