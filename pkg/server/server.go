// Copyright 2025 Wisdom Hub Project
//
// HTTP API server
// Versioned JSON surface under /api/v1/ plus /health and /metrics. The only
// place service-layer error kinds become transport status codes.

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisdomnet/wisdom-hub/pkg/config"
	"github.com/wisdomnet/wisdom-hub/pkg/hub"
)

// federatedSearchTimeout bounds every federated call; peer queries inherit
// it as their deadline.
const federatedSearchTimeout = 10 * time.Second

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wisdomhub_http_requests_total",
	Help: "HTTP requests by route, method, and status",
}, []string{"route", "method", "status"})

// Server exposes the hub service over HTTP+JSON.
type Server struct {
	svc       *hub.Service
	cfg       *config.Config
	logger    *log.Logger
	startTime time.Time
}

// New creates the HTTP server for a wired service.
func New(svc *hub.Service, cfg *config.Config) *Server {
	return &Server{
		svc:       svc,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
		startTime: time.Now().UTC(),
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/agents", s.instrument("agents", s.handleAgents))
	mux.HandleFunc("/api/v1/agents/", s.instrument("agent", s.handleAgentByID))
	mux.HandleFunc("/api/v1/fragments", s.instrument("fragments", s.handleFragments))
	mux.HandleFunc("/api/v1/fragments/search", s.instrument("fragment_search", s.handleFragmentSearch))
	mux.HandleFunc("/api/v1/fragments/", s.instrument("fragment", s.handleFragmentByID))
	mux.HandleFunc("/api/v1/relations", s.instrument("relations", s.handleRelations))
	mux.HandleFunc("/api/v1/relations/", s.instrument("relation", s.handleRelationByID))
	mux.HandleFunc("/api/v1/tags", s.instrument("tags", s.handleTags))
	mux.HandleFunc("/api/v1/tags/", s.instrument("tag", s.handleTagByID))
	mux.HandleFunc("/api/v1/transforms", s.instrument("transforms", s.handleTransforms))
	mux.HandleFunc("/api/v1/transforms/", s.instrument("transform", s.handleTransformByID))
	mux.HandleFunc("/api/v1/trust/path", s.instrument("trust_path", s.handleTrustPath))
	mux.HandleFunc("/api/v1/search", s.instrument("search", s.handleSearch))
	mux.HandleFunc("/api/v1/discovery/hubs", s.instrument("discovery_hubs", s.handleDiscoveryHubs))
	mux.HandleFunc("/api/v1/discovery/register", s.instrument("discovery_register", s.handleDiscoveryRegister))
	mux.HandleFunc("/api/v1/discovery/heartbeat", s.instrument("discovery_heartbeat", s.handleDiscoveryHeartbeat))

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// statusRecorder captures the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with the request counter.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	}
}

// ====== Response Helpers ======

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already flushed; an encode failure here is unrecoverable.
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor is the normative error-kind to HTTP status mapping.
func statusFor(kind hub.Kind) int {
	switch kind {
	case hub.KindNotFound:
		return http.StatusNotFound
	case hub.KindValidation:
		return http.StatusBadRequest
	case hub.KindConflict:
		return http.StatusConflict
	case hub.KindUnauthorized:
		return http.StatusUnauthorized
	case hub.KindCapacityRejected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := hub.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("internal error: %v", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
}

// decodeBody parses a JSON request body into dest.
func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return hub.Wrap(hub.KindValidation, err, "malformed request body")
	}
	return nil
}

// pathID extracts the trailing uuid from a prefixed route.
func pathID(path, prefix string) (uuid.UUID, error) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, hub.Errf(hub.KindValidation, "invalid identifier %q", rest)
	}
	return id, nil
}

// queryID parses a uuid query parameter.
func queryID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, hub.Errf(hub.KindValidation, "invalid %s parameter %q", name, raw)
	}
	return id, nil
}

// pageParams reads the cursor/limit pagination parameters.
func pageParams(r *http.Request) (string, int) {
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return cursor, limit
}

// writeReceipt emits a write result: 201 on create, 200 on update.
func writeReceipt(w http.ResponseWriter, receipt *hub.Receipt) {
	status := http.StatusOK
	if receipt.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, receipt)
}

// ====== Health ======

// handleHealth reports component status in one document.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"hub_id":         s.cfg.Hub.HubID,
		"role":           s.cfg.Hub.Role,
		"resource_level": s.svc.ResourceLevel().String(),
		"agents":         stats.AgentCount,
		"fragments":      stats.FragmentCount,
		"peers":          len(s.svc.Hubs()),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// listResponse is the uniform page envelope for list endpoints.
type listResponse struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// emptyList avoids emitting null for empty pages.
func emptyList(items interface{}) interface{} {
	if items == nil {
		return []struct{}{}
	}
	return items
}
