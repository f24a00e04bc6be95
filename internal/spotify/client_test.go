package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"gigwatch/internal/subscribers"
	"gigwatch/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, validToken string, refreshes *atomic.Int32) *httptest.Server {
	return newServerExpiring(t, validToken, refreshes, 0)
}

// newServerExpiring issues tokens with expires_in set to expiresIn seconds when positive.
func newServerExpiring(t *testing.T, validToken string, refreshes *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	authed := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}
	mux.HandleFunc("/v1/me/tracks", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		if r.URL.Query().Get("offset") == "" {
			fmt.Fprintf(w, `{"items":[
				{"track":{"artists":[{"name":"Radiohead"}]}},
				{"track":{"artists":[{"name":"Bjork"},{"name":"Radiohead"}]}}
			],"next":%q}`, srv.URL+"/v1/me/tracks?offset=50&limit=50")
			return
		}
		fmt.Fprint(w, `{"items":[{"track":{"artists":[{"name":"Portishead"}]}}],"next":null}`)
	})
	mux.HandleFunc("/v1/me/top/artists", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		fmt.Fprint(w, `{"items":[{"name":"Portishead"},{"name":"Massive Attack"},{"name":"Radiohead"}]}`)
	})
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", id)
		assert.Equal(t, "csecret", secret)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		if r.PostForm.Get("refresh_token") != "good-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if expiresIn > 0 {
			fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":%d}`, validToken, expiresIn)
			return
		}
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer"}`, validToken)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *Client {
	return New(Config{
		ClientID: "cid", ClientSecret: "csecret",
		APIBase: srv.URL + "/v1", AccountsBase: srv.URL,
	}, logx.Nop())
}

func TestFavoriteArtistsRankedByCount(t *testing.T) {
	var refreshes atomic.Int32
	srv := newServer(t, "tok", &refreshes)

	got, err := newClient(srv).FavoriteArtists(context.Background(), subscribers.Subscriber{ID: "1", AccessToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, []string{"Radiohead", "Portishead", "Bjork", "Massive Attack"}, got)
	require.Zero(t, refreshes.Load())
}

func TestFavoriteArtistsRefreshesOnUnauthorized(t *testing.T) {
	var refreshes atomic.Int32
	srv := newServer(t, "fresh", &refreshes)
	c := newClient(srv)
	sub := subscribers.Subscriber{ID: "1", AccessToken: "stale", RefreshToken: "good-refresh"}

	got, err := c.FavoriteArtists(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, "Radiohead", got[0])
	require.EqualValues(t, 1, refreshes.Load())

	_, err = c.FavoriteArtists(context.Background(), sub)
	require.NoError(t, err)
	require.EqualValues(t, 1, refreshes.Load(), "refreshed token is reused")
}

func TestFavoriteArtistsRefreshFailure(t *testing.T) {
	var refreshes atomic.Int32
	srv := newServer(t, "fresh", &refreshes)

	_, err := newClient(srv).FavoriteArtists(context.Background(),
		subscribers.Subscriber{ID: "1", AccessToken: "stale", RefreshToken: "revoked"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestFavoriteArtistsWithoutRefreshToken(t *testing.T) {
	var refreshes atomic.Int32
	srv := newServer(t, "fresh", &refreshes)

	_, err := newClient(srv).FavoriteArtists(context.Background(), subscribers.Subscriber{ID: "1", AccessToken: "stale"})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, refreshes.Load())
}

func TestFavoriteArtistsRefreshesExpiredToken(t *testing.T) {
	var refreshes atomic.Int32
	// Five seconds is inside the oauth2 expiry margin, so each cached token counts as expired.
	srv := newServerExpiring(t, "fresh", &refreshes, 5)
	c := newClient(srv)
	sub := subscribers.Subscriber{ID: "1", AccessToken: "stale", RefreshToken: "good-refresh"}

	_, err := c.FavoriteArtists(context.Background(), sub)
	require.NoError(t, err)
	require.EqualValues(t, 1, refreshes.Load())

	_, err = c.FavoriteArtists(context.Background(), sub)
	require.NoError(t, err)
	require.EqualValues(t, 2, refreshes.Load(), "expired token refreshed before the request")
}

func TestFavoriteArtistsRejectsForeignNextLink(t *testing.T) {
	var foreignHits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits.Add(1)
		fmt.Fprint(w, `{"items":[]}`)
	}))
	t.Cleanup(foreign.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"items":[{"track":{"artists":[{"name":"Radiohead"}]}}],"next":%q}`,
			foreign.URL+"/v1/me/tracks?offset=50")
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(srv).FavoriteArtists(context.Background(), subscribers.Subscriber{ID: "1", AccessToken: "tok"})
	require.ErrorContains(t, err, "outside")
	require.Zero(t, foreignHits.Load(), "token never sent to another host")
}
