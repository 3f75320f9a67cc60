package jsapi

// Record is one keyword entry from the keywords_by_asin_query feed, with
// nullable API fields collapsed to zero values. A rank of 0 means unranked.
type Record struct {
	Name                       string
	OrganicRank                int
	SponsoredRank              int
	OverallRank                int
	AvgCompetitorOrganicRank   float64
	AvgCompetitorSponsoredRank float64
	MonthlyVolumeExact         int
	MonthlyVolumeBroad         int
	PPCBidExact                float64
	PPCBidBroad                float64
	UpdatedAt                  string
	CompetitorRanks            []CompetitorRank
}

// CompetitorRank is a competitor ASIN's organic rank for the same keyword.
type CompetitorRank struct {
	ASIN        string
	OrganicRank int
}

// WeekVolume is one weekly period from the historical_search_volume endpoint.
type WeekVolume struct {
	StartDate string
	EndDate   string
	Volume    int
}

// Wire shapes. The API is JSON:API flavored: records under data[].attributes,
// cursor under links.next.

type keywordResponse struct {
	Data []struct {
		Attributes keywordAttributes `json:"attributes"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type keywordAttributes struct {
	Name                       string           `json:"name"`
	OrganicRank                *int             `json:"organic_rank"`
	SponsoredRank              *int             `json:"sponsored_rank"`
	OverallRank                *int             `json:"overall_rank"`
	AvgCompetitorOrganicRank   *float64         `json:"avg_competitor_organic_rank"`
	AvgCompetitorSponsoredRank *float64         `json:"avg_competitor_sponsored_rank"`
	MonthlyVolumeExact         *int             `json:"monthly_search_volume_exact"`
	MonthlyVolumeBroad         *int             `json:"monthly_search_volume_broad"`
	PPCBidExact                *float64         `json:"ppc_bid_exact"`
	PPCBidBroad                *float64         `json:"ppc_bid_broad"`
	UpdatedAt                  string           `json:"updated_at"`
	CompetitorOrganicRank      []competitorRank `json:"competitor_organic_rank"`
}

type competitorRank struct {
	ASIN        string `json:"asin"`
	OrganicRank *int   `json:"organic_rank"`
}

type historicalResponse struct {
	Data []struct {
		Attributes struct {
			EstimateStartDate string `json:"estimate_start_date"`
			EstimateEndDate   string `json:"estimate_end_date"`
			EstimatedVolume   *int   `json:"estimated_exact_search_volume"`
		} `json:"attributes"`
	} `json:"data"`
}

func (a keywordAttributes) record() Record {
	rec := Record{
		Name:      a.Name,
		UpdatedAt: a.UpdatedAt,
	}
	rec.OrganicRank = intValue(a.OrganicRank)
	rec.SponsoredRank = intValue(a.SponsoredRank)
	rec.OverallRank = intValue(a.OverallRank)
	rec.AvgCompetitorOrganicRank = floatValue(a.AvgCompetitorOrganicRank)
	rec.AvgCompetitorSponsoredRank = floatValue(a.AvgCompetitorSponsoredRank)
	rec.MonthlyVolumeExact = intValue(a.MonthlyVolumeExact)
	rec.MonthlyVolumeBroad = intValue(a.MonthlyVolumeBroad)
	rec.PPCBidExact = floatValue(a.PPCBidExact)
	rec.PPCBidBroad = floatValue(a.PPCBidBroad)
	for _, c := range a.CompetitorOrganicRank {
		rec.CompetitorRanks = append(rec.CompetitorRanks, CompetitorRank{
			ASIN:        c.ASIN,
			OrganicRank: intValue(c.OrganicRank),
		})
	}
	return rec
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func floatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
