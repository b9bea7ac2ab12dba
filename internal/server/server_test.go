package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/refmirror/internal/config"
	"github.com/zeusync/refmirror/internal/core/binding"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store/memory"
	"github.com/zeusync/refmirror/internal/remote/ws"
)

const waitFor = 2 * time.Second

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *memory.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}

	reg := prometheus.NewRegistry()
	met, err := metrics.New(reg)
	require.NoError(t, err)

	st := memory.New(memory.WithMetrics(met))
	srv, err := NewServer(cfg, ws.NewServer(st.Root(), ws.WithServerMetrics(met)), reg, nil)
	require.NoError(t, err)
	return srv, st
}

func wsURL(srv *Server, path string) string {
	return "ws://" + srv.Addr().String() + path
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_RunServesAndStops(t *testing.T) {
	srv, st := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, waitFor, 5*time.Millisecond)

	base := "http://" + srv.Addr().String()
	code, body := get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), waitFor)
	defer dialCancel()
	c, err := ws.Dial(dialCtx, wsURL(srv, "/ws"))
	require.NoError(t, err)

	require.NoError(t, st.Ref("greeting").Set("hello"))
	v, err := binding.BindValue(c.Ref("greeting"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return v.Get() == "hello" }, waitFor, 5*time.Millisecond)

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "refmirror_ws_connections_active 1")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client still connected")
	}

	require.ErrorIs(t, srv.Start(context.Background()), ErrServerClosed)
	require.ErrorIs(t, srv.Stop(context.Background()), ErrServerNotRunning)
}

func TestServer_StartTwice(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	require.ErrorIs(t, srv.Start(context.Background()), ErrServerAlreadyRunning)
}

func TestServer_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv, _ := newTestServer(t, func(c *config.Config) { c.Server.ListenAddr = busy.Addr().String() })
	require.ErrorIs(t, srv.Start(context.Background()), ErrListenerFailed)
	require.False(t, srv.running.Load())
}

func TestServer_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Path = ""
	_, err := NewServer(cfg, ws.NewServer(memory.New().Root()), nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewServer(config.Default(), nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.Metrics.Enabled = false })
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	code, _ := get(t, hs.URL+"/metrics")
	require.Equal(t, http.StatusNotFound, code)
}

func TestServer_TokenAuth(t *testing.T) {
	srv, st := newTestServer(t, func(c *config.Config) { c.Server.Token = "s3cret" })
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := ws.Dial(ctx, url)
	require.Error(t, err)
	_, err = ws.Dial(ctx, url, ws.WithToken("wrong"))
	require.Error(t, err)

	c, err := ws.Dial(ctx, url, ws.WithToken("s3cret"))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ref("x").Set(1.0))
	require.Eventually(t, func() bool {
		snap, err := st.Ref("x").Snapshot()
		return err == nil && snap.Val() == 1.0
	}, waitFor, 5*time.Millisecond)

	q, err := ws.Dial(ctx, url+"?"+TokenQueryParam+"=s3cret")
	require.NoError(t, err)
	require.NoError(t, q.Close())
}

func TestTokenAuth_Disabled(t *testing.T) {
	called := false
	h := TokenAuth("", nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.True(t, called)
}
