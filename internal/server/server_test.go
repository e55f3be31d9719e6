package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clambin/smokeping/internal/check"
	"github.com/clambin/smokeping/internal/sender"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTargets []check.Target

func (f fakeTargets) Targets() []check.Target { return f }

type fakeHealth struct{ err error }

func (f fakeHealth) LastError() error { return f.err }

func newTestServer(health error) (*Server, *sender.Prometheus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := sender.NewPrometheus(logger)
	r := prometheus.NewRegistry()
	r.MustRegister(p)
	return &Server{
		Gatherer: r,
		Events:   p,
		Targets:  fakeTargets{{Address: "127.0.0.1", Tags: []string{"dst_addr:127.0.0.1"}}},
		Health:   fakeHealth{err: health},
		Logger:   logger,
	}, p
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_Metrics(t *testing.T) {
	s, p := newTestServer(nil)
	p.Increment("ping.total_cnt", 3, []string{"dst_addr:127.0.0.1"})

	w := get(t, s.Router(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ping_total_cnt{dst_addr="127.0.0.1"} 3`)
}

func TestServer_Events(t *testing.T) {
	s, p := newTestServer(nil)
	h := s.Router()

	w := get(t, h, "/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	p.Event(sender.Event{Timestamp: 1, EventType: "ping", Title: "fping timeout", AggregationKey: "abc"})
	w = get(t, h, "/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var events []sender.Event
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "abc", events[0].AggregationKey)
}

func TestServer_Targets(t *testing.T) {
	s, _ := newTestServer(nil)

	w := get(t, s.Router(), "/targets")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"addr":"127.0.0.1","tags":["dst_addr:127.0.0.1"]}]`, w.Body.String())
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "unhealthy", err: errors.New("command not found: fping"), wantCode: http.StatusServiceUnavailable, wantBody: "command not found: fping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(tt.err)
			w := get(t, s.Router(), "/healthz")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(w.Body.String()))
		})
	}
}
