package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const (
	// ChartsSheet is rebuilt from scratch on every render.
	ChartsSheet = "Charts"

	chartTitle  = "Keyword Impressions Over Time"
	chartWidth  = 1000
	chartHeight = 500
)

// ChartRenderer draws the stacked impressions chart. The top keywords by
// total impressions get their own series; the rest collapse into "Others".
type ChartRenderer struct {
	store  *Store
	source string
	top    int
	logger *slog.Logger
}

// NewChartRenderer creates a renderer reading from the given source sheet.
func NewChartRenderer(store *Store, source string, top int, logger *slog.Logger) *ChartRenderer {
	if top <= 0 {
		top = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChartRenderer{store: store, source: source, top: top, logger: logger}
}

type chartSeries struct {
	keyword string
	values  []int
	total   int
}

// Render rebuilds the Charts sheet from the impressions table and adds the
// stacked column chart.
func (c *ChartRenderer) Render(ctx context.Context) error {
	dates, series, err := c.readSource(ctx)
	if err != nil {
		return err
	}
	if len(dates) == 0 || len(series) == 0 {
		c.logger.Info("charts: no impressions data, skipping")
		return nil
	}

	series = collapseOthers(series, c.top, len(dates))

	table, err := c.store.Table(ChartsSheet)
	if err != nil {
		return err
	}
	if err := table.Clear(ctx); err != nil {
		return err
	}

	rows := make([][]string, 0, len(series)+1)
	rows = append(rows, append([]string{"Keyword"}, dates...))
	for _, s := range series {
		row := make([]string, 0, len(dates)+1)
		row = append(row, s.keyword)
		for _, v := range s.values {
			row = append(row, strconv.Itoa(v))
		}
		rows = append(rows, row)
	}
	if err := table.Write(ctx, 1, 1, rows); err != nil {
		return err
	}

	return c.addChart(len(series), len(dates))
}

// readSource pulls the impressions table into per-keyword integer series.
// The trailing Total column (a formula) is excluded.
func (c *ChartRenderer) readSource(ctx context.Context) ([]string, []chartSeries, error) {
	t, err := c.store.Table(c.source)
	if err != nil {
		return nil, nil, err
	}
	numRows, numCols, err := t.Dims(ctx)
	if err != nil {
		return nil, nil, err
	}
	if numRows < 2 || numCols < 2 {
		return nil, nil, nil
	}
	cells, err := t.Read(ctx, 1, 1, numRows, numCols)
	if err != nil {
		return nil, nil, err
	}

	lastDateCol := numCols - 1
	if cells[0][numCols-1] != "Total" {
		lastDateCol = numCols
	}
	dates := cells[0][1:lastDateCol]

	var series []chartSeries
	for _, row := range cells[1:] {
		if row[0] == "" {
			continue
		}
		s := chartSeries{keyword: row[0], values: make([]int, len(dates))}
		for i := range dates {
			v, _ := strconv.Atoi(row[1+i])
			s.values[i] = v
			s.total += v
		}
		series = append(series, s)
	}
	return dates, series, nil
}

// collapseOthers keeps the top-n series by total and folds the remainder into
// a single "Others" series.
func collapseOthers(series []chartSeries, n, numDates int) []chartSeries {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].total > series[j].total
	})
	if len(series) <= n {
		return series
	}
	others := chartSeries{keyword: "Others", values: make([]int, numDates)}
	for _, s := range series[n:] {
		for i, v := range s.values {
			others.values[i] += v
		}
		others.total += s.total
	}
	return append(series[:n:n], others)
}

func (c *ChartRenderer) addChart(numSeries, numDates int) error {
	lastCol, err := excelize.ColumnNumberToName(1 + numDates)
	if err != nil {
		return fmt.Errorf("xlsx: column name: %w", err)
	}

	chart := &excelize.Chart{
		Type:   excelize.ColStacked,
		Title:  []excelize.RichTextRun{{Text: chartTitle}},
		Legend: excelize.ChartLegend{Position: "bottom"},
		Dimension: excelize.ChartDimension{
			Width:  chartWidth,
			Height: chartHeight,
		},
	}
	for i := range numSeries {
		row := i + 2
		chart.Series = append(chart.Series, excelize.ChartSeries{
			Name:       fmt.Sprintf("%s!$A$%d", ChartsSheet, row),
			Categories: fmt.Sprintf("%s!$B$1:$%s$1", ChartsSheet, lastCol),
			Values:     fmt.Sprintf("%s!$B$%d:$%s$%d", ChartsSheet, row, lastCol, row),
		})
	}

	anchor, err := excelize.CoordinatesToCellName(1, numSeries+3)
	if err != nil {
		return fmt.Errorf("xlsx: anchor cell: %w", err)
	}
	if err := c.store.File().AddChart(ChartsSheet, anchor, chart); err != nil {
		return fmt.Errorf("xlsx: add chart: %w", err)
	}
	return nil
}
