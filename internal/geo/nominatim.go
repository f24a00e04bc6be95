// Package geo resolves coordinates to a city and country via Nominatim.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gigwatch/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "gigwatch/1.0"
)

type Place struct {
	City    string
	Country string
}

type Config struct {
	BaseURL   string
	UserAgent string
	// RatePerSec is capped by the public instance's usage policy at 1.
	RatePerSec float64
	Timeout    time.Duration

	HTTPClient *http.Client
}

type Nominatim struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewNominatim(cfg Config, log logx.Logger) *Nominatim {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Nominatim{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log,
	}
}

type reverseResponse struct {
	Error   string `json:"error"`
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Country string `json:"country"`
	} `json:"address"`
}

// Reverse looks up lat/lon. ok is false when nothing usable was found; that is not an error.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, bool, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return Place{}, false, err
	}

	q := url.Values{
		"format":          {"jsonv2"},
		"lat":             {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(lon, 'f', -1, 64)},
		"accept-language": {"en"},
		"zoom":            {"10"},
		"addressdetails":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, false, err
	}
	req.Header.Set("User-Agent", n.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return Place{}, false, fmt.Errorf("nominatim reverse: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Place{}, false, fmt.Errorf("nominatim reverse: status %d", resp.StatusCode)
	}

	var r reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Place{}, false, fmt.Errorf("nominatim reverse: decode: %w", err)
	}
	if r.Error != "" {
		n.log.Debug("reverse geocode unresolved", logx.Float64("lat", lat), logx.Float64("lon", lon), logx.String("reason", r.Error))
		return Place{}, false, nil
	}

	p := Place{Country: r.Address.Country}
	for _, c := range []string{r.Address.City, r.Address.Town, r.Address.Village} {
		if c != "" {
			p.City = c
			break
		}
	}
	if p.City == "" && p.Country == "" {
		return Place{}, false, nil
	}
	return p, true, nil
}
