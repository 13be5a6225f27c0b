// Package httpapi implements the server's admin/observability HTTP
// surface (spec §4.13): liveness and readiness probes, Prometheus-style
// metrics, and an admin-token gated snapshot trigger. It runs alongside
// the UDP game socket on its own address.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"pygase/gamestate"
	"pygase/internal/logging"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	ConnectionCount() int
	Uptime() time.Duration
}

// ConnectionStats is a point-in-time view of one multiplexed connection's
// metrics, as reported by server.Server.ConnectionStats.
type ConnectionStats struct {
	RemoteAddr    string
	Status        string
	BytesSent     int64
	BytesReceived int64
	Drops         map[string]int64
}

// StatsFunc returns a snapshot of every currently multiplexed connection.
type StatsFunc func() []ConnectionStats

// Exporter triggers an on-demand compressed game state dump (spec §4.14).
type Exporter interface {
	Dump(ctx context.Context) (string, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Store       *gamestate.Store
	Exporter    Exporter
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the server's admin/observability handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	store       *gamestate.Store
	exporter    Exporter
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		store:       opts.Store,
		exporter:    opts.Exporter,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/admin/snapshot", h.SnapshotHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports server readiness, including connection count
// and uptime.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Connections   int     `json:"connections"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Connections = h.readiness.ConnectionCount()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus-compatible text metrics covering
// per-connection byte counts and drop reasons plus the shared game state
// store's cache depth and time_order.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		connections := 0
		if h.readiness != nil {
			connections = h.readiness.ConnectionCount()
		}
		fmt.Fprintf(w, "# HELP pygase_connections Currently multiplexed client connections.\n")
		fmt.Fprintf(w, "# TYPE pygase_connections gauge\n")
		fmt.Fprintf(w, "pygase_connections %d\n", connections)

		if h.readiness != nil {
			fmt.Fprintf(w, "# HELP pygase_uptime_seconds Server uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE pygase_uptime_seconds gauge\n")
			fmt.Fprintf(w, "pygase_uptime_seconds %.0f\n", h.readiness.Uptime().Seconds())
		}

		if h.stats != nil {
			stats := h.stats()
			fmt.Fprintf(w, "# HELP pygase_connection_bytes_sent_total Bytes sent to a connection.\n")
			fmt.Fprintf(w, "# TYPE pygase_connection_bytes_sent_total counter\n")
			for _, c := range stats {
				fmt.Fprintf(w, "pygase_connection_bytes_sent_total{remote=%q} %d\n", c.RemoteAddr, c.BytesSent)
			}
			fmt.Fprintf(w, "# HELP pygase_connection_bytes_received_total Bytes received from a connection.\n")
			fmt.Fprintf(w, "# TYPE pygase_connection_bytes_received_total counter\n")
			for _, c := range stats {
				fmt.Fprintf(w, "pygase_connection_bytes_received_total{remote=%q} %d\n", c.RemoteAddr, c.BytesReceived)
			}
			fmt.Fprintf(w, "# HELP pygase_connection_drops_total Dropped datagrams by reason.\n")
			fmt.Fprintf(w, "# TYPE pygase_connection_drops_total counter\n")
			for _, c := range stats {
				reasons := make([]string, 0, len(c.Drops))
				for reason := range c.Drops {
					reasons = append(reasons, reason)
				}
				sort.Strings(reasons)
				for _, reason := range reasons {
					fmt.Fprintf(w, "pygase_connection_drops_total{remote=%q,reason=%q} %d\n", c.RemoteAddr, reason, c.Drops[reason])
				}
			}
		}

		if h.store != nil {
			cache := h.store.GetUpdateCache()
			fmt.Fprintf(w, "# HELP pygase_gamestate_cache_depth Retained update cache entries.\n")
			fmt.Fprintf(w, "# TYPE pygase_gamestate_cache_depth gauge\n")
			fmt.Fprintf(w, "pygase_gamestate_cache_depth %d\n", len(cache))

			state := h.store.GetGameState()
			fmt.Fprintf(w, "# HELP pygase_gamestate_time_order Current authoritative state's time_order sequence number.\n")
			fmt.Fprintf(w, "# TYPE pygase_gamestate_time_order gauge\n")
			fmt.Fprintf(w, "pygase_gamestate_time_order %d\n", uint64(state.TimeOrder))
		}
	}
}

// SnapshotHandler authorizes and triggers an on-demand compressed game
// state dump (spec §4.14).
func (h *HandlerSet) SnapshotHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		Path   string `json:"path,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "admin_snapshot"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("snapshot denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("snapshot denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("snapshot denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.exporter == nil {
			reqLogger.Warn("snapshot denied: no exporter configured")
			http.Error(w, "snapshotting is unavailable", http.StatusServiceUnavailable)
			return
		}
		path, err := h.exporter.Dump(r.Context())
		if err != nil {
			reqLogger.Error("snapshot trigger failed", logging.Error(err))
			http.Error(w, "failed to write snapshot", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("snapshot written", logging.String("path", path))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Path: path})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
