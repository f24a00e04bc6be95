// Package catalog is a quota-aware client for the Ticketmaster Discovery v2 API.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gigwatch/internal/metrics"
	"gigwatch/pkg/logx"
)

const (
	DefaultBaseURL     = "https://app.ticketmaster.com/discovery/v2"
	DefaultDailyQuota  = 5000
	DefaultPerSecond   = 5
	DefaultQuotaPeriod = 24 * time.Hour
	DefaultTimeout     = 15 * time.Second

	endpointAttractions = "attractions"
	endpointEvents      = "events"
)

type Config struct {
	BaseURL     string
	APIKey      string
	DailyQuota  int
	PerSecond   int
	QuotaPeriod time.Duration
	Timeout     time.Duration

	HTTPClient *http.Client
	Clock      Clock
	Metrics    *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.DailyQuota <= 0 {
		c.DailyQuota = DefaultDailyQuota
	}
	if c.PerSecond <= 0 {
		c.PerSecond = DefaultPerSecond
	}
	if c.QuotaPeriod <= 0 {
		c.QuotaPeriod = DefaultQuotaPeriod
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

type Client struct {
	cfg   Config
	quota *QuotaWindow
	log   logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:   cfg,
		quota: NewQuotaWindow(cfg.Clock, cfg.DailyQuota, cfg.PerSecond, cfg.QuotaPeriod),
		log:   log,
	}
}

func (c *Client) Usage() Usage { return c.quota.Usage() }

// FetchEvents resolves name to its first catalog attraction and lists that attraction's events.
// No matching attraction yields an empty list and a nil error.
func (c *Client) FetchEvents(ctx context.Context, name string) ([]Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyEntity
	}

	var attractions attractionsPage
	if err := c.get(ctx, endpointAttractions, url.Values{"keyword": {name}}, &attractions); err != nil {
		return nil, err
	}
	if len(attractions.Embedded.Attractions) == 0 || attractions.Embedded.Attractions[0].ID == "" {
		c.log.Debug("no attraction found", logx.String("name", name))
		return []Event{}, nil
	}
	id := attractions.Embedded.Attractions[0].ID

	var events eventsPage
	if err := c.get(ctx, endpointEvents, url.Values{"attractionId": {id}}, &events); err != nil {
		return nil, err
	}
	out := events.Embedded.Events
	if out == nil {
		out = []Event{}
	}
	c.log.Debug("events fetched", logx.String("name", name), logx.String("attraction_id", id), logx.Int("count", len(out)))
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) (err error) {
	defer func() {
		c.cfg.Metrics.CatalogRequest(Classify(err).String())
	}()

	if err := c.quota.Acquire(ctx); err != nil {
		return err
	}

	q.Set("apikey", c.cfg.APIKey)
	u := c.cfg.BaseURL + "/" + endpoint + ".json?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("catalog %s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		used := c.quota.pin()
		c.cfg.Metrics.QuotaUsed(used)
		c.log.Warn("catalog returned 429, quota pinned until period rollover", logx.String("endpoint", endpoint))
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &UpstreamError{Endpoint: endpoint, Status: resp.StatusCode}
	}

	used := c.quota.recordSuccess()
	c.cfg.Metrics.QuotaUsed(used)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog %s: decode: %w", endpoint, err)
	}
	return nil
}
