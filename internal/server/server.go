package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightaudit/internal/audit"
	"freightaudit/internal/freight"
	"freightaudit/internal/ingest"
)

const maxUploadBytes = 32 << 20

// AuditService is what the HTTP layer needs from audit.Service.
type AuditService interface {
	Rerate(ctx context.Context, runID uuid.UUID, tariffIDs []uuid.UUID) (*audit.Result, error)
	RefreshCache(ctx context.Context) error
	Quote(ctx context.Context, sh freight.Shipment) (freight.RatingOutcome, error)
	Summary(ctx context.Context, runID uuid.UUID) (freight.SummaryMetrics, error)
	LaneStats(ctx context.Context, runID uuid.UUID) ([]freight.LaneStat, error)
	Consolidation(ctx context.Context, runID uuid.UUID) ([]freight.ConsolidationGroup, error)
	Exceptions(ctx context.Context, runID uuid.UUID, kind string) ([]audit.Exception, error)
}

// RunCreator stores a new audit run. When nil, POST /audits is not served.
type RunCreator interface {
	CreateRun(ctx context.Context, name string, shipments []freight.Shipment) (uuid.UUID, error)
}

type Server struct {
	svc  AuditService
	runs RunCreator
	log  *zap.Logger
}

func New(svc AuditService, runs RunCreator, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, runs: runs, log: log}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Logger)
	r.Get("/healthz", s.handleHealth)
	if runs != nil {
		r.Post("/audits", s.handleCreateRun)
	}
	r.Route("/audits/{id}", func(r chi.Router) {
		r.Post("/rerate", s.handleRerate)
		r.Get("/summary", s.handleSummary)
		r.Get("/lane-stats", s.handleLaneStats)
		r.Get("/exceptions", s.handleExceptions)
		r.Get("/consolidation", s.handleConsolidation)
	})
	r.Post("/tariffs/refresh-cache", s.handleRefreshCache)
	r.Get("/rates/quote", s.handleQuote)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createRunRequest struct {
	Name      string           `json:"name"`
	Shipments []map[string]any `json:"shipments"`
}

type createRunResponse struct {
	RunID     uuid.UUID `json:"audit_run_id"`
	Shipments int       `json:"shipments"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	dec.UseNumber()
	var req createRunRequest
	if err := dec.Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if len(req.Shipments) == 0 {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "shipments required")
		return
	}
	shipments := make([]freight.Shipment, 0, len(req.Shipments))
	for _, raw := range req.Shipments {
		sh, err := ingest.NormalizeShipment(raw)
		if err != nil {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_shipment", err.Error())
			return
		}
		shipments = append(shipments, sh)
	}
	id, err := s.runs.CreateRun(r.Context(), strings.TrimSpace(req.Name), shipments)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRunResponse{RunID: id, Shipments: len(shipments)})
}

func (s *Server) handleRerate(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	tariffIDs, err := parseIDList(r.URL.Query().Get("tariff_ids"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "tariff_ids must be comma separated uuids")
		return
	}
	res, err := s.svc.Rerate(r.Context(), runID, tariffIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	m, err := s.svc.Summary(r.Context(), runID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLaneStats(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	stats, err := s.svc.LaneStats(r.Context(), runID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExceptions(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("type"))
	if kind == "" {
		kind = audit.ExceptionsAll
	}
	list, err := s.svc.Exceptions(r.Context(), runID, kind)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleConsolidation(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	groups, err := s.svc.Consolidation(r.Context(), runID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleRefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshCache(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// handleQuote prices one shipment described by query parameters, using the
// same field names as shipment records (origin_dc, dest_city, weight, ...).
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	m := map[string]any{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	sh, err := ingest.NormalizeShipment(m)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out, err := s.svc.Quote(r.Context(), sh)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func runIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "audit run id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func parseIDList(raw string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeServiceError maps domain errors onto the error envelope.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unknown audit.UnknownExceptionError
	switch {
	case errors.Is(err, freight.ErrRunNotFound):
		writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "audit run not found")
	case errors.Is(err, freight.ErrInvalidTariff):
		writeErrorJSON(w, http.StatusUnprocessableEntity, "invalid_tariff", err.Error())
	case errors.As(err, &unknown):
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", unknown.Error())
	case errors.Is(err, context.Canceled):
		writeErrorJSON(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.Error(err))
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// requestIDMiddleware ensures X-Request-ID is set on the response.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}
