package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pygase/gamestate"
	"pygase/internal/logging"
	"pygase/internal/wire"
	"pygase/sqn"
)

type stubReadiness struct {
	connections int
	uptime      time.Duration
}

func (s *stubReadiness) ConnectionCount() int  { return s.connections }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubExporter struct {
	path  string
	err   error
	calls int
}

func (s *stubExporter) Dump(ctx context.Context) (string, error) {
	s.calls++
	return s.path, s.err
}

func mustSqn(t *testing.T, v uint64) sqn.Sqn {
	t.Helper()
	s, err := sqn.New(v)
	if err != nil {
		t.Fatalf("sqn.New(%d): %v", v, err)
	}
	return s
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerReportsConnectionsAndUptime(t *testing.T) {
	readiness := &stubReadiness{connections: 3, uptime: 45 * time.Second}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Connections   int     `json:"connections"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Connections != 3 {
		t.Fatalf("unexpected connection count: %+v", payload)
	}
	if payload.UptimeSeconds != readiness.uptime.Seconds() {
		t.Fatalf("unexpected uptime: got %f want %f", payload.UptimeSeconds, readiness.uptime.Seconds())
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{connections: 2, uptime: 90 * time.Second}
	store := gamestate.NewStore(gamestate.State{
		TimeOrder: mustSqn(t, 7),
		Data:      wire.Record{"level": "arena"},
	}, gamestate.DefaultCacheSize)
	store.PushUpdate(gamestate.NewUpdate(mustSqn(t, 8), wire.Record{"score": int64(1)}))

	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: readiness,
		Store:     store,
		Stats: func() []ConnectionStats {
			return []ConnectionStats{
				{
					RemoteAddr:    "127.0.0.1:9000",
					Status:        "connected",
					BytesSent:     512,
					BytesReceived: 256,
					Drops:         map[string]int64{"duplicate": 2},
				},
			}
		},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"pygase_connections 2",
		"pygase_uptime_seconds 90",
		`pygase_connection_bytes_sent_total{remote="127.0.0.1:9000"} 512`,
		`pygase_connection_bytes_received_total{remote="127.0.0.1:9000"} 256`,
		`pygase_connection_drops_total{remote="127.0.0.1:9000",reason="duplicate"} 2`,
		"pygase_gamestate_cache_depth 1",
		"pygase_gamestate_time_order 8",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestSnapshotHandlerAuthAndRateLimits(t *testing.T) {
	exporter := &stubExporter{path: "/tmp/pygase-state-latest.msgpack.zst"}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Exporter:    exporter,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.SnapshotHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}

	if resp := makeRequest("topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if exporter.calls != 1 {
		t.Fatalf("expected exporter invoked once, got %d", exporter.calls)
	}

	if resp := makeRequest("topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestSnapshotHandlerRejectsWhenAdminTokenUnset(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Exporter: &stubExporter{}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", nil)
	handlers.SnapshotHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin token unset, got %d", rr.Code)
	}
}

func TestSnapshotHandlerSurfacesExporterFailure(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Exporter:   &stubExporter{err: errors.New("disk full")},
		AdminToken: "topsecret",
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	handlers.SnapshotHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on exporter failure, got %d", rr.Code)
	}
}

func TestSnapshotHandlerRejectsNonPost(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Exporter: &stubExporter{}, AdminToken: "x"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/snapshot", nil)
	handlers.SnapshotHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
