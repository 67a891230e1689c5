package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Handler serves the read-only presentation API over the memoized snapshot.
type Handler struct {
	snapshots *SnapshotCache
	analyzer  Analyzer
	cfg       *Config
	log       zerolog.Logger
	now       func() time.Time
}

func NewHandler(snapshots *SnapshotCache, analyzer Analyzer, cfg *Config, log zerolog.Logger) *Handler {
	return &Handler{snapshots: snapshots, analyzer: analyzer, cfg: cfg, log: log, now: time.Now}
}

func NewRouter(h *Handler, metrics *Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/states", h.ListStates)
		r.Get("/states/{state}/districts", h.ListDistricts)
		r.Get("/mli", h.ListMLI)
		r.Get("/summary", h.Summary)
		r.Get("/forecast", h.Forecast)
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

type statusResponse struct {
	Mode            LoadMode       `json:"mode"`
	Ready           bool           `json:"ready"`
	LoadedAt        time.Time      `json:"loaded_at"`
	Enrollment      DatasetSummary `json:"enrollment"`
	Demographic     DatasetSummary `json:"demographic"`
	Regions         int            `json:"regions"`
	CacheAgeSeconds *float64       `json:"cache_age_seconds,omitempty"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := statusResponse{
		Mode:        snap.Mode,
		Ready:       snap.Ready(),
		LoadedAt:    snap.LoadedAt,
		Enrollment:  summarizeDataset(snap.Enrollment),
		Demographic: summarizeDataset(snap.Demographic),
		Regions:     len(snap.MLI),
	}
	if age, ok := cacheAge(h.cfg.Paths.EnrollmentCache, h.now()); ok {
		seconds := age.Seconds()
		resp.CacheAgeSeconds = &seconds
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) ListStates(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.readySnapshot(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"states": StateNames(snap.MLI)})
}

func (h *Handler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.readySnapshot(w, r)
	if !ok {
		return
	}
	// chi hands back the escaped segment when the path carries a RawPath,
	// e.g. "Jammu%20%26%20Kashmir".
	state, err := url.PathUnescape(chi.URLParam(r, "state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid state: "+chi.URLParam(r, "state")))
		return
	}
	districts := DistrictNames(snap.MLI, state)
	if len(districts) == 0 {
		writeError(w, http.StatusNotFound, errors.New("unknown state: "+state))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"state":     normalizeState(state),
		"districts": append([]string{AllDistricts}, districts...),
	})
}

func (h *Handler) ListMLI(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.readySnapshot(w, r)
	if !ok {
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	rows := snap.MLI
	if state != "" {
		rows = FilterRows(snap.MLI, state, r.URL.Query().Get("district"))
	}
	if rows == nil {
		rows = []MLIRow{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.readySnapshot(w, r)
	if !ok {
		return
	}
	report, err := h.analyzer.buildReport(snap, h.selection(r, false), h.now())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"view":        report.View,
		"summary":     report.Summary,
		"color_scale": h.cfg.Report.ColorScale,
	})
}

func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.readySnapshot(w, r)
	if !ok {
		return
	}
	report, err := h.analyzer.buildReport(snap, h.selection(r, true), h.now())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	points := report.Forecast
	if points == nil {
		points = []ForecastPoint{}
	}
	resp := map[string]any{
		"region":           report.View.Label,
		"points":           points,
		"predicted_volume": report.PredictedVolume,
		"advice":           report.Advice,
	}
	if len(points) == 0 {
		resp["message"] = "Insufficient historical data for prediction."
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) selection(r *http.Request, forecast bool) reportOptions {
	query := r.URL.Query()
	return reportOptions{
		State:    query.Get("state"),
		District: query.Get("district"),
		Forecast: forecast,
	}
}

// readySnapshot returns the snapshot or writes the error response. A load
// failure is a 500; missing data is a 503 so callers stop before analytics.
func (h *Handler) readySnapshot(w http.ResponseWriter, r *http.Request) (*Snapshot, bool) {
	snap, err := h.snapshots.Get(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Snapshot load failed")
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if !snap.Ready() {
		writeError(w, http.StatusServiceUnavailable, ErrNoData)
		return nil, false
	}
	return snap, true
}

func writeJSONResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSONResponse(w, status, map[string]string{"error": err.Error()})
}
