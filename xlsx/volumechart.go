package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

const (
	// VolumeChartsSheet is rebuilt from scratch on every render.
	VolumeChartsSheet = "Volume Charts"

	volumeChartWidth   = 298
	volumeChartHeight  = 180
	volumeChartsPerRow = 4
)

// VolumeChartRenderer draws one weekly search-volume line chart per tracked
// keyword. The source table stores weeks newest-first; the chart data is
// written oldest-first so the lines read left to right.
type VolumeChartRenderer struct {
	store  *Store
	source string
	max    int
	logger *slog.Logger
}

// NewVolumeChartRenderer creates a renderer reading from the given volume
// sheet. At most max keywords get a chart.
func NewVolumeChartRenderer(store *Store, source string, max int, logger *slog.Logger) *VolumeChartRenderer {
	if max <= 0 {
		max = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VolumeChartRenderer{store: store, source: source, max: max, logger: logger}
}

// Render rebuilds the Volume Charts sheet and adds one line chart per
// keyword in a grid below the data rows.
func (c *VolumeChartRenderer) Render(ctx context.Context) error {
	ends, rows, err := c.readSource(ctx)
	if err != nil {
		return err
	}
	if len(ends) == 0 || len(rows) == 0 {
		c.logger.Info("volume charts: no volume data, skipping")
		return nil
	}

	table, err := c.store.Table(VolumeChartsSheet)
	if err != nil {
		return err
	}
	if err := table.Clear(ctx); err != nil {
		return err
	}

	data := make([][]string, 0, len(rows)+1)
	data = append(data, append([]string{"Keyword"}, ends...))
	data = append(data, rows...)
	if err := table.Write(ctx, 1, 1, data); err != nil {
		return err
	}

	for i, row := range rows {
		if err := c.addLineChart(i, row[0], len(ends), len(rows)); err != nil {
			return err
		}
	}
	return nil
}

// readSource pulls the volume table into week-ending labels and per-keyword
// rows, both reversed to ascending week order. Keywords past the chart cap
// are dropped.
func (c *VolumeChartRenderer) readSource(ctx context.Context) ([]string, [][]string, error) {
	t, err := c.store.Table(c.source)
	if err != nil {
		return nil, nil, err
	}
	numRows, numCols, err := t.Dims(ctx)
	if err != nil {
		return nil, nil, err
	}
	if numRows < 3 || numCols < 2 {
		return nil, nil, nil
	}
	cells, err := t.Read(ctx, 1, 1, numRows, numCols)
	if err != nil {
		return nil, nil, err
	}

	// Week columns run newest-first from column B; collect their indexes in
	// reverse so the chart data comes out ascending.
	var weekCols []int
	for col := numCols - 1; col >= 1; col-- {
		if cells[1][col] != "" {
			weekCols = append(weekCols, col)
		}
	}
	ends := make([]string, len(weekCols))
	for i, col := range weekCols {
		ends[i] = cells[1][col]
	}

	var rows [][]string
	for _, src := range cells[2:] {
		if src[0] == "" {
			continue
		}
		row := make([]string, 0, len(ends)+1)
		row = append(row, src[0])
		for _, col := range weekCols {
			row = append(row, src[col])
		}
		rows = append(rows, row)
		if len(rows) >= c.max {
			break
		}
	}
	return ends, rows, nil
}

func (c *VolumeChartRenderer) addLineChart(i int, keyword string, numWeeks, numRows int) error {
	lastCol, err := excelize.ColumnNumberToName(1 + numWeeks)
	if err != nil {
		return fmt.Errorf("xlsx: column name: %w", err)
	}
	dataRow := i + 2

	chart := &excelize.Chart{
		Type:   excelize.Line,
		Title:  []excelize.RichTextRun{{Text: titleCase(keyword)}},
		Legend: excelize.ChartLegend{Position: "none"},
		Dimension: excelize.ChartDimension{
			Width:  volumeChartWidth,
			Height: volumeChartHeight,
		},
		XAxis: excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Week Ending"}}},
		YAxis: excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Search Volume"}}},
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$A$%d", VolumeChartsSheet, dataRow),
			Categories: fmt.Sprintf("%s!$B$1:$%s$1", VolumeChartsSheet, lastCol),
			Values:     fmt.Sprintf("%s!$B$%d:$%s$%d", VolumeChartsSheet, dataRow, lastCol, dataRow),
		}},
	}

	anchorRow := numRows + 3 + (i/volumeChartsPerRow)*10
	anchorCol := (i%volumeChartsPerRow)*6 + 1
	anchor, err := excelize.CoordinatesToCellName(anchorCol, anchorRow)
	if err != nil {
		return fmt.Errorf("xlsx: anchor cell: %w", err)
	}
	if err := c.store.File().AddChart(VolumeChartsSheet, anchor, chart); err != nil {
		return fmt.Errorf("xlsx: add line chart: %w", err)
	}
	return nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
