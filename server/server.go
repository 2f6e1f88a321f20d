// Package server exposes the aggregator over HTTP: the source list, the
// admission status check and the live search stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/openbox-deals/admission"
	"github.com/aluiziolira/openbox-deals/parser"
	"github.com/aluiziolira/openbox-deals/pipeline"
	"github.com/aluiziolira/openbox-deals/scraper"
)

// Server routes HTTP requests to a supervisor.
type Server struct {
	sup     *pipeline.Supervisor
	gate    *admission.Gate
	metrics *scraper.Metrics
	mux     *http.ServeMux
}

// New builds the routes. metrics may be nil, in which case /metrics is not
// served.
func New(sup *pipeline.Supervisor, gate *admission.Gate, metrics *scraper.Metrics) *Server {
	s := &Server{
		sup:     sup,
		gate:    gate,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/sites", s.handleSites)
	s.mux.HandleFunc("GET /api/search/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/search/live", s.handleLive)
	if metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the router wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type siteInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	sources := s.sup.Sources()
	sites := make([]siteInfo, 0, len(sources))
	for _, src := range sources {
		sites = append(sites, siteInfo{Key: src.Key, Name: src.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

type statusResponse struct {
	CanSearch   bool   `json:"can_search"`
	Error       string `json:"error,omitempty"`
	WaitSeconds *int   `json:"wait_seconds,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	decision := s.gate.Peek(ClientID(r))
	switch decision.Verdict {
	case admission.AlreadySearching:
		writeJSON(w, http.StatusTooManyRequests, statusResponse{Error: "Search already in progress"})
	case admission.RateLimited:
		wait := decision.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		writeJSON(w, http.StatusTooManyRequests, statusResponse{
			Error:       fmt.Sprintf("Rate limited. Try again in %ds", wait),
			WaitSeconds: &wait,
		})
	default:
		writeJSON(w, http.StatusOK, statusResponse{CanSearch: true})
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r)
	query := r.URL.Query()

	maxPrice, err := parseMaxPrice(query.Get("max_price"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	session, err := s.sup.Start(clientID, query.Get("q"), maxPrice)
	if err != nil {
		s.writeStartError(w, clientID, err)
		return
	}

	sse, err := pipeline.NewSSEWriter(w, s.sup.WriteTimeout())
	if err != nil {
		session.Close()
		slog.Error("streaming unsupported", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	defer sse.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	slog.Info("search started",
		slog.String("search_id", session.ID),
		slog.String("client", clientID),
		slog.String("query", session.Query.Text),
	)
	if _, err := session.Run(r.Context(), sse); err != nil && !errors.Is(err, pipeline.ErrClientDisconnected) {
		slog.Error("search failed", slog.String("search_id", session.ID), slog.Any("error", err))
	}
}

func (s *Server) writeStartError(w http.ResponseWriter, clientID string, err error) {
	var verr *parser.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
		return
	}

	var aerr *pipeline.AdmissionError
	if errors.As(err, &aerr) {
		slog.Debug("search refused",
			slog.String("client", clientID),
			slog.String("reason", aerr.Reason()),
		)
		body := map[string]any{"error": aerr.Error(), "reason": aerr.Reason()}
		if aerr.Verdict == admission.RateLimited {
			w.Header().Set("Retry-After", strconv.Itoa(aerr.RetryAfter))
			body["wait_seconds"] = aerr.RetryAfter
		}
		writeJSON(w, http.StatusTooManyRequests, body)
		return
	}

	slog.Error("start search", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseMaxPrice(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &parser.ValidationError{Field: "max_price", Reason: "must be a number"}
	}
	return &v, nil
}

// ClientID identifies the caller by the host part of its remote address.
func ClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", slog.Any("error", err))
	}
}
