// Package control exposes the dashboard's HTTP control surface: view state
// inspection, layer toggles, time range, highlights and pause control, plus
// health and metrics endpoints.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/situroom/situmap/pkg/mapengine"
)

// Server wires the composer to HTTP. It holds no state of its own; every
// request reads or mutates the composer directly.
type Server struct {
	composer *mapengine.Composer
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// NewServer creates the control server. A nil gatherer serves the default
// prometheus registry on /metrics.
func NewServer(composer *mapengine.Composer, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{composer: composer, logger: logger, gatherer: gatherer}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Get("/hotspots", s.getHotspots)
		r.Put("/view", s.putView)
		r.Put("/layers/{domain}", s.putLayer)
		r.Put("/timerange", s.putTimeRange)
		r.Put("/pause", s.putPause)
		r.Post("/highlight", s.postHighlight)
	})
	return r
}

type stateResponse struct {
	Zoom           float64    `json:"zoom"`
	CenterLat      float64    `json:"center_lat"`
	CenterLon      float64    `json:"center_lon"`
	ActiveView     string     `json:"active_view,omitempty"`
	TimeStart      *time.Time `json:"time_start,omitempty"`
	TimeEnd        *time.Time `json:"time_end,omitempty"`
	DisabledLayers []string   `json:"disabled_layers,omitempty"`
	RenderPaused   bool       `json:"render_paused"`
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	vs := s.composer.View()
	resp := stateResponse{
		Zoom:         vs.Zoom,
		CenterLat:    vs.CenterLat,
		CenterLon:    vs.CenterLon,
		ActiveView:   vs.ActiveView,
		RenderPaused: vs.RenderPaused,
	}
	if !vs.TimeRange.Start.IsZero() {
		t := vs.TimeRange.Start
		resp.TimeStart = &t
	}
	if !vs.TimeRange.End.IsZero() {
		t := vs.TimeRange.End
		resp.TimeEnd = &t
	}
	for d := range vs.DisabledLayers {
		resp.DisabledLayers = append(resp.DisabledLayers, string(d))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type hotspotResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Score    float64 `json:"score"`
	Level    string  `json:"level"`
	Breaking bool    `json:"breaking"`
}

func (s *Server) getHotspots(w http.ResponseWriter, _ *http.Request) {
	hotspots := s.composer.Hotspots()
	resp := make([]hotspotResponse, len(hotspots))
	for i, h := range hotspots {
		resp[i] = hotspotResponse{
			ID:       h.ID,
			Name:     h.Name,
			Lat:      h.Lat,
			Lon:      h.Lon,
			Score:    h.EscalationScore,
			Level:    string(h.Level),
			Breaking: h.HasBreaking,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type viewRequest struct {
	Zoom       *float64 `json:"zoom"`
	CenterLat  *float64 `json:"center_lat"`
	CenterLon  *float64 `json:"center_lon"`
	ActiveView *string  `json:"active_view"`
}

func (s *Server) putView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Zoom != nil {
		s.composer.SetZoomLevel(*req.Zoom)
	}
	if req.CenterLat != nil && req.CenterLon != nil {
		s.composer.SetCenter(*req.CenterLat, *req.CenterLon)
	}
	if req.ActiveView != nil {
		s.composer.SetActiveView(*req.ActiveView)
	}
	s.getState(w, r)
}

type layerRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) putLayer(w http.ResponseWriter, r *http.Request) {
	var req layerRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	domain := mapengine.Domain(chi.URLParam(r, "domain"))
	s.composer.SetLayerEnabled(domain, req.Enabled)
	s.getState(w, r)
}

type timeRangeRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

func (s *Server) putTimeRange(w http.ResponseWriter, r *http.Request) {
	var req timeRangeRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	var tr mapengine.TimeRange
	if req.Start != nil {
		tr.Start = *req.Start
	}
	if req.End != nil {
		tr.End = *req.End
	}
	s.composer.SetTimeRange(tr)
	s.getState(w, r)
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) putPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	s.composer.SetRenderPaused(req.Paused)
	s.getState(w, r)
}

type highlightRequest struct {
	Domain string   `json:"domain"`
	IDs    []string `json:"ids"`
	Flash  bool     `json:"flash"`
}

func (s *Server) postHighlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	domain := mapengine.Domain(req.Domain)
	if len(req.IDs) == 0 {
		s.composer.ClearHighlight(domain)
	} else if req.Flash {
		s.composer.FlashHighlight(domain, req.IDs)
	} else {
		s.composer.Highlight(domain, req.IDs)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}
