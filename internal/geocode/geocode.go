// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package geocode resolves free-text affiliation strings to coordinates
// through an OpenCage-compatible forward geocoder. Answers are memoized by
// the exact query string and requests are counted against a daily quota
// that persists across runs.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const (
	// DefaultDailyQuota is the free-tier allowance of the provider.
	DefaultDailyQuota = 2500

	// DefaultInterval is the minimum spacing between requests.
	DefaultInterval = time.Second

	// MemoTable is the location memo table; QuotaTable is the quota ledger,
	// kept as state so a full purge does not reset the day's usage.
	MemoTable  = "locations"
	QuotaTable = "geocode_quota"
)

// opencageBase is the forward geocoding endpoint. Declared as a var so
// tests can substitute an httptest server.
var opencageBase = "https://api.opencagedata.com/geocode/v1/json"

// Client is a memoizing, quota-aware geocoder. Lookups are serialized so
// the memo check, the quota check, and the request happen as one step.
type Client struct {
	mu sync.Mutex

	apiKey     string
	userAgent  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	quota      int
	now        func() time.Time
	logger     *slog.Logger

	memo   *cache.JSONTable[types.Location]
	ledger *cache.JSONTable[int]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets the geocoder endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithClock sets the time source used to pick the quota day.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a geocoder over an existing memo and quota ledger.
func New(cfg types.GeocodeConfig, memo *cache.JSONTable[types.Location], ledger *cache.JSONTable[int], opts ...Option) *Client {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	quota := cfg.DailyQuota
	if quota <= 0 {
		quota = DefaultDailyQuota
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		baseURL:    opencageBase,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		quota:      quota,
		now:        time.Now,
		logger:     slog.Default(),
		memo:       memo,
		ledger:     ledger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open creates a geocoder whose memo is a store side table and whose quota
// ledger lives in the store's state directory.
func Open(store *cache.Store, cfg types.GeocodeConfig, opts ...Option) (*Client, error) {
	memo, err := cache.OpenTable[types.Location](store.TablePath(MemoTable))
	if err != nil {
		return nil, err
	}
	ledger, err := cache.OpenTable[int](store.StatePath(QuotaTable))
	if err != nil {
		return nil, err
	}
	return New(cfg, memo, ledger, opts...), nil
}

type ocResponse struct {
	Results []struct {
		Formatted  string `json:"formatted"`
		Confidence int    `json:"confidence"`
		Components struct {
			Country   string `json:"country"`
			Continent string `json:"continent"`
		} `json:"components"`
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
	} `json:"results"`
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

// Locate resolves query. A memoized answer is returned without a request.
// Every counted request and every new answer is persisted immediately.
// A confirmed miss yields source not_found and is memoized. When the daily
// quota is used up, or the service fails, the location has source unknown,
// nothing is memoized, and the error wraps types.ErrQuotaExceeded or
// types.ErrServiceError.
func (c *Client) Locate(ctx context.Context, query string) (types.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Location{Source: types.LocationNone}, nil
	}
	unknown := types.Location{Query: query, Source: types.LocationUnknown}

	c.mu.Lock()
	defer c.mu.Unlock()

	if loc, ok := c.memo.Get(query); ok {
		return loc, nil
	}
	if c.apiKey == "" {
		return unknown, fmt.Errorf("%w: no geocoder API key", types.ErrServiceError)
	}

	day := c.day()
	if used, _ := c.ledger.Get(day); used >= c.quota {
		return unknown, fmt.Errorf("%w: %d geocoder requests used on %s", types.ErrQuotaExceeded, used, day)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return unknown, err
	}
	// Counted on disk before the request is sent.
	c.ledger.Update(day, func(n int, _ bool) int { return n + 1 })
	if err := c.ledger.Flush(); err != nil {
		return unknown, err
	}

	loc, err := c.request(ctx, query)
	if err != nil {
		return unknown, err
	}
	c.memo.Put(query, loc)
	if err := c.memo.Flush(); err != nil {
		// The answer stays memoized in memory and is retried at the next flush.
		c.logger.Warn("location memo not persisted", "query", query, "error", err)
	}
	c.logger.Debug("geocoded", "query", query, "source", loc.Source, "formatted", loc.Formatted)
	return loc, nil
}

func (c *Client) request(ctx context.Context, query string) (types.Location, error) {
	params := url.Values{
		"q":              {query},
		"key":            {c.apiKey},
		"language":       {"en"},
		"limit":          {"1"},
		"no_annotations": {"1"},
		"no_record":      {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return types.Location{}, fmt.Errorf("creating geocoder request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, 2)
	if err != nil {
		return types.Location{}, fmt.Errorf("%w: geocoder request: %w", types.ErrServiceError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusPaymentRequired:
		// The provider counts differently from the ledger; trust it for today.
		c.ledger.Put(c.day(), c.quota)
		if err := c.ledger.Flush(); err != nil {
			c.logger.Warn("quota ledger not persisted", "error", err)
		}
		return types.Location{}, fmt.Errorf("%w: provider reports quota exhausted", types.ErrQuotaExceeded)
	default:
		return types.Location{}, fmt.Errorf("%w: geocoder returned HTTP %d", types.ErrServiceError, resp.StatusCode)
	}

	var oc ocResponse
	if err := json.NewDecoder(resp.Body).Decode(&oc); err != nil {
		return types.Location{}, fmt.Errorf("%w: decoding geocoder response: %w", types.ErrServiceError, err)
	}
	if len(oc.Results) == 0 {
		return types.Location{Query: query, Source: types.LocationNotFound}, nil
	}
	r := oc.Results[0]
	return types.Location{
		Query:      query,
		Formatted:  r.Formatted,
		Country:    r.Components.Country,
		Continent:  r.Components.Continent,
		Lat:        r.Geometry.Lat,
		Lng:        r.Geometry.Lng,
		Confidence: r.Confidence,
		Source:     types.LocationGeocoder,
	}, nil
}

func (c *Client) day() string {
	return c.now().UTC().Format(time.DateOnly)
}

// Used returns the number of requests counted against today's quota.
func (c *Client) Used() int {
	n, _ := c.ledger.Get(c.day())
	return n
}

// Flush persists the memo and the quota ledger.
func (c *Client) Flush() error {
	if err := c.memo.Flush(); err != nil {
		return err
	}
	return c.ledger.Flush()
}
