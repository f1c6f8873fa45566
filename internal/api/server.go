// Package api exposes the scanner over HTTP for fleet tooling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/internal/controller"
	"github.com/psantana5/hostscan/internal/observe"
	"github.com/psantana5/hostscan/internal/report"
	"github.com/psantana5/hostscan/pkg/auth"
	"github.com/psantana5/hostscan/pkg/logging"
	"github.com/psantana5/hostscan/pkg/models"
	"github.com/psantana5/hostscan/pkg/ratelimit"
	"github.com/psantana5/hostscan/pkg/tracing"
)

// Scanner runs one tier; satisfied by *controller.Controller
type Scanner interface {
	RunTier(ctx context.Context, req controller.Request) (*models.ScanResult, error)
}

// Catalog lists the registered checks; satisfied by *checks.Registry
type Catalog interface {
	GetChecks(tier models.Tier) ([]string, error)
	Resolve(id string) (checks.Check, bool)
	TierOf(id string) (models.Tier, bool)
	All() []checks.Check
}

// CheckInfo describes one registered check
type CheckInfo struct {
	ID          string      `json:"id"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Tier        models.Tier `json:"tier"`
}

// Handler serves scans. Only one scan runs at a time.
type Handler struct {
	scanner Scanner
	catalog Catalog
	limiter *ratelimit.Limiter
	keys    *auth.KeyStore
	tracer  *tracing.Provider
	logger  *logging.Logger

	mu          sync.Mutex
	running     bool
	last        *models.ScanResult
	lastMetrics *observe.MetricsCollector
}

// NewHandler creates a handler. limiter and tracer may be nil.
func NewHandler(s Scanner, c Catalog, limiter *ratelimit.Limiter, tracer *tracing.Provider, logger *logging.Logger) *Handler {
	return &Handler{
		scanner:     s,
		catalog:     c,
		limiter:     limiter,
		tracer:      tracer,
		logger:      logger,
		lastMetrics: observe.NewMetricsCollector(),
	}
}

// SetKeyStore requires a valid API key on the /v1 routes
func (h *Handler) SetKeyStore(keys *auth.KeyStore) {
	h.keys = keys
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(tracing.HTTPMiddleware(h.tracer))

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	if h.limiter != nil {
		v1.Use(h.limiter.Middleware(ratelimit.IPKeyFunc))
	}
	if h.keys.Len() > 0 {
		v1.Use(h.keys.Middleware)
	}
	// specific routes before parameterized ones
	v1.HandleFunc("/scans/last", h.LastScan).Methods("GET")
	v1.HandleFunc("/scans", h.RunScan).Methods("POST")
	v1.HandleFunc("/checks", h.ListChecks).Methods("GET")
}

// Router builds a router with every route registered
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// Busy reports whether a scan is in flight
func (h *Handler) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": h.Busy(),
		"time":    time.Now().UTC(),
	})
}

// ListChecks lists registered checks, optionally limited to a tier
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if t := r.URL.Query().Get("tier"); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ids, err = h.catalog.GetChecks(tier); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		for _, c := range h.catalog.All() {
			ids = append(ids, c.ID)
		}
	}

	infos := make([]CheckInfo, 0, len(ids))
	for _, id := range ids {
		c, ok := h.catalog.Resolve(id)
		if !ok {
			continue
		}
		tier, _ := h.catalog.TierOf(id)
		infos = append(infos, CheckInfo{ID: c.ID, Category: c.Category, Description: c.Description, Tier: tier})
	}
	writeJSON(w, http.StatusOK, infos)
}

// RunScan runs a tier synchronously and returns its result
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tier := models.TierQuick
	if t := q.Get("tier"); t != "" {
		var err error
		if tier, err = models.ParseTier(t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	format, err := parseFormat(q.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := controller.Request{Tier: tier, Metrics: observe.NewMetricsCollector()}
	if s := q.Get("sequential"); s != "" {
		if req.Sequential, err = strconv.ParseBool(s); err != nil {
			http.Error(w, "Invalid sequential value", http.StatusBadRequest)
			return
		}
	}
	if n := q.Get("max_concurrency"); n != "" {
		if req.MaxConcurrency, err = strconv.Atoi(n); err != nil {
			http.Error(w, "Invalid max_concurrency value", http.StatusBadRequest)
			return
		}
	}
	if ids := q.Get("checks"); ids != "" {
		req.Checks = strings.Split(ids, ",")
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		http.Error(w, "A scan is already running", http.StatusConflict)
		return
	}
	h.running = true
	h.mu.Unlock()

	result, err := h.scanner.RunTier(r.Context(), req)

	h.mu.Lock()
	h.running = false
	if err == nil {
		h.last = result
		h.lastMetrics = req.Metrics
	}
	h.mu.Unlock()

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrInvalidTier) || errors.Is(err, controller.ErrUnknownCheck) ||
			errors.Is(err, controller.ErrInvalidConcurrency) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("Scan request rejected", map[string]interface{}{"tier": string(tier), "error": err.Error()})
		http.Error(w, err.Error(), status)
		return
	}

	h.logger.Info("Scan completed", map[string]interface{}{
		"scan_id":  result.ScanID,
		"tier":     string(result.Tier),
		"findings": len(result.Findings),
		"budget":   string(result.Overall.Severity),
	})
	writeReport(w, format, result)
}

// LastScan returns the most recent successful scan
func (h *Handler) LastScan(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	if last == nil {
		http.Error(w, "No scan has completed yet", http.StatusNotFound)
		return
	}
	writeReport(w, format, last)
}

// Metrics serves the collector of the most recent scan
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	m := h.lastMetrics
	h.mu.Unlock()
	m.Handler().ServeHTTP(w, r)
}

func parseFormat(s string) (report.Format, error) {
	if s == "" {
		return report.FormatJSON, nil
	}
	return report.ParseFormat(s)
}

var contentTypes = map[report.Format]string{
	report.FormatJSON:  "application/json",
	report.FormatYAML:  "application/yaml",
	report.FormatHTML:  "text/html; charset=utf-8",
	report.FormatTable: "text/plain; charset=utf-8",
}

func writeReport(w http.ResponseWriter, format report.Format, result *models.ScanResult) {
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	report.Render(w, format, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
