package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gigwatch/internal/metrics"
	"gigwatch/pkg/logx"

	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerServesMetrics(t *testing.T) {
	m := metrics.New()
	m.Notified()
	s := New(Config{}, m.Registry(), nil, logx.Nop())

	rec := get(t, s.Handler(Config{}), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gigwatch_check_notifications_total 1")

	rec = get(t, s.Handler(Config{}), "/debug/pprof/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "pprof off by default")
}

func TestHandlerAuth(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	h := s.Handler(Config{Token: "sekret", Pprof: true})

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz?token=nope", nil).Code)
	require.Equal(t, http.StatusOK, get(t, h, "/healthz?token=sekret", nil).Code)
	require.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/", map[string]string{"Authorization": "Bearer sekret"}).Code)
}

func TestHealthzReportsFailure(t *testing.T) {
	s := New(Config{}, nil, func() error { return errors.New("dispatcher stopped") }, logx.Nop())
	rec := get(t, s.Handler(Config{}), "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "dispatcher stopped")
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	require.NoError(t, checkBind(Config{}, "127.0.0.1:9090"))
	require.NoError(t, checkBind(Config{}, "localhost:9090"))
	require.NoError(t, checkBind(Config{}, "[::1]:9090"))
	require.ErrorIs(t, checkBind(Config{}, "0.0.0.0:9090"), errInsecureBind)
	require.ErrorIs(t, checkBind(Config{}, ":9090"), errInsecureBind)
	require.NoError(t, checkBind(Config{Token: "x"}, ":9090"))
	require.NoError(t, checkBind(Config{AllowInsecure: true}, ":9090"))
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, metrics.New().Registry(), nil, logx.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "ok", strings.TrimSpace(string(body)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: false})
	require.Empty(t, s.Addr())
}
