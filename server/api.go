package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the operator HTTP API in front of a Controller.
type Server struct {
	mux       *http.ServeMux
	ctrl      *Controller
	exportDir string
}

// NewServer creates a Server and registers all HTTP routes. exportDir is
// where POST /export writes files. A nil gatherer disables GET /metrics.
func NewServer(ctrl *Controller, exportDir string, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		ctrl:      ctrl,
		exportDir: exportDir,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /status/messages", s.handleStatusMessages)
	s.mux.HandleFunc("POST /proxy/start", s.handleStart)
	s.mux.HandleFunc("POST /proxy/stop", s.handleStop)
	s.mux.HandleFunc("GET /config", s.handleGetConfig)
	s.mux.HandleFunc("PUT /config", s.handlePutConfig)
	s.mux.HandleFunc("GET /interfaces", s.handleInterfaces)
	s.mux.HandleFunc("GET /connections", s.handleConnections)
	s.mux.HandleFunc("DELETE /connections", s.handleClearConnections)
	s.mux.HandleFunc("GET /connections/export", s.handleExportConnections)
	s.mux.HandleFunc("GET /traffic", s.handleTraffic)
	s.mux.HandleFunc("DELETE /traffic", s.handleClearTraffic)
	s.mux.HandleFunc("GET /traffic/export", s.handleExportTraffic)
	s.mux.HandleFunc("POST /export", s.handleExport)
	s.mux.HandleFunc("GET /intercept", s.handleIntercept)
	s.mux.HandleFunc("PUT /intercept/settings", s.handleInterceptSettings)
	s.mux.HandleFunc("PUT /intercept/data", s.handleInterceptEdit)
	s.mux.HandleFunc("POST /intercept/forward", s.handleInterceptForward)
	s.mux.HandleFunc("POST /intercept/drop", s.handleInterceptDrop)
	s.mux.HandleFunc("GET /events", s.handleSSE)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET /health. Returns 200 with {"status":"ok"}.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStatusMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.ctrl.StatusMessages()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartProxy(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopProxy(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ctrl.Config(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig handles PUT /config. The port is accepted as a string so
// operator input is validated here rather than by the JSON decoder.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := s.ctrl.ApplyConfig(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.ctrl.Interfaces(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.ctrl.Connections()))
}

func (s *Server) handleClearConnections(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearConnections(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportConnections(w http.ResponseWriter, r *http.Request) {
	writeCSVHeaders(w, ExportName("connections", time.Now()))
	if err := WriteConnectionsCSV(w, s.ctrl.Connections()); err != nil {
		s.ctrl.log.Warn("export connections", "err", err)
	}
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.ctrl.Traffic()))
}

func (s *Server) handleClearTraffic(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearTraffic(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportTraffic(w http.ResponseWriter, r *http.Request) {
	writeCSVHeaders(w, ExportName("traffic", time.Now()))
	if err := WriteTrafficCSV(w, s.ctrl.Traffic()); err != nil {
		s.ctrl.log.Warn("export traffic", "err", err)
	}
}

// handleExport handles POST /export, writing both logs to the export
// directory.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	paths, err := s.ctrl.Export(r.Context(), s.exportDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": paths})
}

func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	v, err := s.ctrl.Intercept(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// InterceptSettings is the body of PUT /intercept/settings. Absent fields
// are left unchanged.
type InterceptSettings struct {
	Enabled   *bool             `json:"enabled,omitempty"`
	Direction *engine.Direction `json:"direction,omitempty"`
	View      *codec.ViewMode   `json:"view,omitempty"`
}

func (s *Server) handleInterceptSettings(w http.ResponseWriter, r *http.Request) {
	var req InterceptSettings
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.View != nil {
		if err := s.ctrl.SetViewMode(ctx, *req.View); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.Direction != nil {
		if err := s.ctrl.SetInterceptDirection(ctx, *req.Direction); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.ctrl.SetInterceptEnabled(ctx, *req.Enabled); err != nil {
			writeErr(w, err)
			return
		}
	}
	s.handleIntercept(w, r)
}

// InterceptEdit is the body of PUT /intercept/data.
type InterceptEdit struct {
	Text string `json:"text"`
}

func (s *Server) handleInterceptEdit(w http.ResponseWriter, r *http.Request) {
	var req InterceptEdit
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.EditIntercept(r.Context(), req.Text); err != nil {
		writeErr(w, err)
		return
	}
	s.handleIntercept(w, r)
}

func (s *Server) handleInterceptForward(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ForwardIntercept(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	s.handleIntercept(w, r)
}

func (s *Server) handleInterceptDrop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DropIntercept(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	s.handleIntercept(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeCSVHeaders(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps controller and engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoPendingIntercept),
		errors.Is(err, engine.ErrUnknownConnection),
		errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidEdit),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, engine.ErrConfigRejected):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotLoaded),
		errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
