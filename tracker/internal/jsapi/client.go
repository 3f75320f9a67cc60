// Package jsapi is a client for the Jungle Scout keyword intelligence API.
//
// Both endpoints are walked sequentially. The keyword feed is cursor
// paginated and volume-sorted; callers terminate the walk early with a stop
// predicate once volumes drop below their floor, which is correct for the
// whole remainder of the feed because of the sort guarantee.
package jsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the client.
type Config struct {
	// BaseURL of the API. Default: the production endpoint.
	BaseURL string
	// KeyName and Key form the Authorization header value "<name>:<key>".
	KeyName string
	Key     string
	// Marketplace code, e.g. "us".
	Marketplace string
	// Timeout for each page request. Default: 30s.
	Timeout time.Duration
	// PageSize per page. Default: 100.
	PageSize  int
	UserAgent string
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://developer.junglescout.com/api"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.UserAgent == "" {
		c.UserAgent = "rankwatch/1.0"
	}
}

// Client issues requests against the Jungle Scout API.
type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

// QueryOptions control the keyword feed walk.
type QueryOptions struct {
	// Stop terminates the entire walk (all remaining records and pages) at
	// the first record for which it returns true. The record itself is not
	// emitted.
	Stop func(Record) bool
	// Skip drops a single record; the walk continues.
	Skip func(Record) bool
	// MaxRecords caps the number of emitted records. 0 = no cap.
	MaxRecords int
}

// KeywordsByASIN walks the paginated keywords_by_asin_query feed for the
// given ASINs. On a transport failure or non-2xx page it returns whatever was
// accumulated so far together with the error; callers treat the batch as
// partial rather than failing the run. There is no retry.
func (c *Client) KeywordsByASIN(ctx context.Context, asins []string, opts QueryOptions) ([]Record, error) {
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"type": "keywords_by_asin_query",
			"attributes": map[string]any{
				"asins":                     asins,
				"include_variants":          true,
				"min_word_count":            1,
				"max_word_count":            10,
				"min_organic_product_count": 1,
				"sort":                      "-monthly_search_volume_exact",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	pageURL := fmt.Sprintf("%s/keywords/keywords_by_asin_query?marketplace=%s&sort=-monthly_search_volume_exact&page[size]=%d",
		c.config.BaseURL, c.config.Marketplace, c.config.PageSize)

	var records []Record
	for pageURL != "" {
		page, next, err := c.keywordPage(ctx, pageURL, payload)
		if err != nil {
			c.logger.Warn("keyword feed: page fetch failed, returning partial batch",
				"records", len(records), "error", err)
			return records, err
		}
		for _, attrs := range page {
			rec := attrs.record()
			if opts.Stop != nil && opts.Stop(rec) {
				c.logger.Info("keyword feed: stop predicate ended walk", "records", len(records))
				return records, nil
			}
			if opts.Skip != nil && opts.Skip(rec) {
				continue
			}
			records = append(records, rec)
			if opts.MaxRecords > 0 && len(records) >= opts.MaxRecords {
				c.logger.Info("keyword feed: record cap reached", "records", len(records))
				return records, nil
			}
		}
		pageURL = next
	}
	return records, nil
}

func (c *Client) keywordPage(ctx context.Context, pageURL string, payload []byte) ([]keywordAttributes, string, error) {
	body, err := c.do(ctx, http.MethodPost, pageURL, payload)
	if err != nil {
		return nil, "", err
	}
	var resp keywordResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode page: %w", err)
	}
	attrs := make([]keywordAttributes, 0, len(resp.Data))
	for _, d := range resp.Data {
		attrs = append(attrs, d.Attributes)
	}
	return attrs, resp.Links.Next, nil
}

// HistoricalVolume fetches weekly exact search volume estimates for one
// keyword over [startDate, endDate] (yyyy-mm-dd). Missing or malformed data
// comes back as an empty slice, not an error.
func (c *Client) HistoricalVolume(ctx context.Context, keyword, startDate, endDate string) ([]WeekVolume, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("marketplace", c.config.Marketplace)
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	fullURL := c.config.BaseURL + "/keywords/historical_search_volume?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	var resp historicalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode historical volume: %w", err)
	}
	weeks := make([]WeekVolume, 0, len(resp.Data))
	for _, d := range resp.Data {
		weeks = append(weeks, WeekVolume{
			StartDate: d.Attributes.EstimateStartDate,
			EndDate:   d.Attributes.EstimateEndDate,
			Volume:    intValue(d.Attributes.EstimatedVolume),
		})
	}
	return weeks, nil
}

func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", c.config.KeyName+":"+c.config.Key)
	req.Header.Set("Accept", "application/vnd.junglescout.v1+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X_API_Type", "junglescout")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, fullURL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
