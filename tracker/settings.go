package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rankwatch/grid"
)

// Operator settings live in fixed cells of the "ASINs" table, column B.
// The fetched keyword listing occupies a region to the right of them.
const (
	settingsPrimaryRow     = 3
	settingsCompetitorRow  = 6
	settingsCompetitorRows = 9
	settingsMarketplaceRow = 17
	settingsFloorRow       = 20
	settingsRankedOnlyRow  = 23
	settingsCol            = 2

	keywordFirstRow = 7
	keywordFirstCol = 4 // column D
	keywordCols     = 7
)

// Settings is the operator configuration read from the ASINs table at the
// start of every run.
type Settings struct {
	PrimaryASIN     string
	CompetitorASINs []string
	Marketplace     string
	// VolumeFloor is the exact-match monthly volume below which the keyword
	// feed walk stops. Never below 1.
	VolumeFloor int
	// RankedOnly drops keywords holding neither an organic nor a sponsored
	// rank.
	RankedOnly bool
}

// ASINs returns the primary ASIN followed by the competitors.
func (s Settings) ASINs() []string {
	return append([]string{s.PrimaryASIN}, s.CompetitorASINs...)
}

// ReadSettings loads the Settings from the ASINs table in one batched read.
func ReadSettings(ctx context.Context, t grid.Table) (Settings, error) {
	cells, err := t.Read(ctx, 1, settingsCol, settingsRankedOnlyRow, 1)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	cell := func(row int) string {
		if row-1 < len(cells) && len(cells[row-1]) > 0 {
			return strings.TrimSpace(cells[row-1][0])
		}
		return ""
	}

	s := Settings{
		PrimaryASIN: cell(settingsPrimaryRow),
		Marketplace: cell(settingsMarketplaceRow),
		VolumeFloor: 1,
		RankedOnly:  strings.EqualFold(cell(settingsRankedOnlyRow), "yes"),
	}
	for i := range settingsCompetitorRows {
		if asin := cell(settingsCompetitorRow + i); asin != "" {
			s.CompetitorASINs = append(s.CompetitorASINs, asin)
		}
	}
	if s.Marketplace == "" {
		s.Marketplace = "us"
	}
	if floor, err := strconv.Atoi(cell(settingsFloorRow)); err == nil && floor > 1 {
		s.VolumeFloor = floor
	}
	return s, nil
}
