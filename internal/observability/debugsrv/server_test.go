package debugsrv

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	logx "wsched/pkg/logx"
)

func testDeps() Deps {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "wsched_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	return Deps{Gatherer: reg, Status: func() any { return map[string]int{"workers": 2} }}
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Metrics: true, Pprof: true}, testDeps())

	rec := get(t, h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wsched_test_total 3")

	rec = get(t, h, "/debug/sched", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"workers":2}`, rec.Body.String())

	rec = get(t, h, "/debug/pprof/", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerDisabledRoutes(t *testing.T) {
	t.Parallel()
	h := Handler(Config{}, testDeps())
	require.Equal(t, http.StatusNotFound, get(t, h, "/metrics", "").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", "").Code)
}

func TestHandlerToken(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Metrics: true, Token: "s3cret"}, testDeps())

	require.Equal(t, http.StatusOK, get(t, h, "/healthz", "").Code, "liveness stays open")
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics", "").Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics", "wrong").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/metrics", "s3cret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/debug/sched?token=s3cret", "").Code)
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0", Metrics: true}, testDeps(), logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.Start(ctx)
	require.Eventually(t, func() bool { return svc.Addr() != "" }, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "ok", string(body))

	svc.Reconfigure(ctx, Config{Enabled: false})
	require.Empty(t, svc.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	require.True(t, isLoopbackAddr("127.0.0.1:6060"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:6060"))
	require.False(t, isLoopbackAddr(":6060"))
	require.False(t, isLoopbackAddr("0.0.0.0:6060"))
	require.False(t, isLoopbackAddr("nonsense"))
}
