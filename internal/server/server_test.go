package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
)

type fakeSource struct {
	status tptbmapi.RunStatus
}

func (f *fakeSource) Status() tptbmapi.RunStatus { return f.status }

func (f *fakeSource) WorkerStatus(ordinal int) (tptbmapi.SlotStatus, error) {
	for _, w := range f.status.Workers {
		if w.Ordinal == ordinal {
			return w, nil
		}
	}
	return tptbmapi.SlotStatus{}, tptbmapi.ErrorNotFound(errors.Newf("no worker %d", ordinal))
}

func newTestServer(t *testing.T) *httptest.Server {
	src := &fakeSource{status: tptbmapi.RunStatus{
		RunID: "run1",
		Task:  tptbmapi.TaskRun,
		Code:  tptbmapi.StatusBusy,
		Workers: []tptbmapi.SlotStatus{
			{Ordinal: 1, State: "ready"},
			{Ordinal: 2, State: "attached"},
		},
	}}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tptbm_test_total", Help: "test"}))

	h := NewHandler(src, zap.NewNop())
	h.Metrics = reg
	srv := httptest.NewServer(NewRouter(h, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, code)

	var status tptbmapi.RunStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Equal(t, "run1", status.RunID)
	require.Equal(t, tptbmapi.StatusBusy, status.Code)
	require.Len(t, status.Workers, 2)

	code, body = get(t, srv, "/status/2/")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ordinal": 2, "state": "attached"}`, body)
}

func TestStatusErrors(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/status/9")
	require.Equal(t, http.StatusNotFound, code)
	require.JSONEq(t, `{"error": "no worker 9"}`, body)

	code, _ = get(t, srv, "/status/first")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPingAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/ping")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, ".", body)

	code, body = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "tptbm_test_total 0")

	code, body = get(t, srv, "/")
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.Contains(body, `"/status/{ordinal}"`), body)
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, http.NotFoundHandler(), zap.NewNop())
	}()

	cancel()
	require.NoError(t, <-done)
}
