// Package spotify derives a user's favorite artists from the Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"gigwatch/internal/subscribers"
	"gigwatch/pkg/logx"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIBase      = "https://api.spotify.com/v1"
	DefaultAccountsBase = "https://accounts.spotify.com"

	pageLimit = 50
	// maxPages bounds paging through saved tracks.
	maxPages = 200
)

var ErrUnauthorized = errors.New("spotify: unauthorized")

// APIError is a non-2xx answer other than 401.
type APIError struct {
	Status int
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify %s: status %d", e.Path, e.Status)
}

type Config struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	AccountsBase string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client fetches favorites on behalf of subscribers. Tokens obtained by refresh are kept
// in memory for the life of the process; the credential file stays read-only.
type Client struct {
	cfg   Config
	api   *url.URL
	http  *http.Client
	oauth *oauth2.Config
	log   logx.Logger

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if strings.TrimSpace(cfg.AccountsBase) == "" {
		cfg.AccountsBase = DefaultAccountsBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.AccountsBase = strings.TrimRight(cfg.AccountsBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	api, err := url.Parse(cfg.APIBase)
	if err != nil {
		api = &url.URL{}
	}
	return &Client{
		cfg:  cfg,
		api:  api,
		http: hc,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AccountsBase + "/authorize",
				TokenURL:  cfg.AccountsBase + "/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		log:    log,
		tokens: map[string]*oauth2.Token{},
	}
}

// FavoriteArtists returns artist names from saved tracks and top artists, most frequent first.
// Ties keep first-seen order. An expired token is refreshed before use; a 401 triggers one
// refresh and a full retry.
func (c *Client) FavoriteArtists(ctx context.Context, sub subscribers.Subscriber) ([]string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.token(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	names, err := c.favorites(ctx, tok)
	if !errors.Is(err, ErrUnauthorized) || tok.RefreshToken == "" {
		return names, err
	}

	c.log.Debug("access token rejected, refreshing", logx.String("subscriber", sub.ID))
	tok, err = c.refresh(ctx, sub.ID, tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return c.favorites(ctx, tok)
}

// token returns the cached token for sub, or the one from the credential file.
// A token past its expiry is refreshed first.
func (c *Client) token(ctx context.Context, sub subscribers.Subscriber) (*oauth2.Token, error) {
	c.mu.Lock()
	t, ok := c.tokens[sub.ID]
	c.mu.Unlock()
	if !ok {
		t = &oauth2.Token{AccessToken: sub.AccessToken, RefreshToken: sub.RefreshToken, TokenType: "Bearer"}
	}
	if t.Valid() || t.RefreshToken == "" {
		return t, nil
	}
	return c.refresh(ctx, sub.ID, t.RefreshToken)
}

// refresh runs the refresh-token grant and caches the result for subID.
func (c *Client) refresh(ctx context.Context, subID, refreshToken string) (*oauth2.Token, error) {
	// No access token, so the source always goes to the token endpoint.
	t, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &APIError{Status: re.Response.StatusCode, Path: "/api/token"}
		}
		return nil, err
	}
	c.mu.Lock()
	c.tokens[subID] = t
	c.mu.Unlock()
	return t, nil
}

type artist struct {
	Name string `json:"name"`
}

type savedTracksPage struct {
	Items []struct {
		Track struct {
			Artists []artist `json:"artists"`
		} `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

type topArtistsPage struct {
	Items []artist `json:"items"`
}

func (c *Client) favorites(ctx context.Context, tok *oauth2.Token) ([]string, error) {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	hc.Timeout = c.cfg.Timeout

	var order []string
	counts := map[string]int{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}

	next := c.cfg.APIBase + "/me/tracks?" + url.Values{"limit": {fmt.Sprint(pageLimit)}}.Encode()
	for page := 0; next != "" && page < maxPages; page++ {
		if page > 0 {
			if err := c.checkNext(next); err != nil {
				return nil, err
			}
		}
		var p savedTracksPage
		if err := c.getJSON(ctx, hc, next, &p); err != nil {
			return nil, err
		}
		for _, it := range p.Items {
			for _, a := range it.Track.Artists {
				add(a.Name)
			}
		}
		next = p.Next
	}

	var top topArtistsPage
	if err := c.getJSON(ctx, hc, c.cfg.APIBase+"/me/top/artists?limit="+fmt.Sprint(pageLimit), &top); err != nil {
		return nil, err
	}
	for _, a := range top.Items {
		add(a.Name)
	}

	slices.SortStableFunc(order, func(a, b string) int { return counts[b] - counts[a] })
	return order, nil
}

// checkNext refuses paging links that leave the API host, so the bearer token stays there.
func (c *Client) checkNext(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("spotify: bad next link: %w", err)
	}
	if !strings.EqualFold(u.Scheme, c.api.Scheme) || !strings.EqualFold(u.Host, c.api.Host) {
		return fmt.Errorf("spotify: next link %s://%s is outside %s", u.Scheme, u.Host, c.cfg.APIBase)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, hc *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("spotify: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &APIError{Status: resp.StatusCode, Path: req.URL.Path}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spotify %s: decode: %w", req.URL.Path, err)
	}
	return nil
}
