package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/warden/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type Dependencies struct {
	Logger        zerolog.Logger
	Addr          string
	Reconciler    *service.InputReconciler
	Authorization *service.AuthorizationWorkflow
	State         *store.State
	Audit         store.AuditStore

	// Healthy backs /healthz; nil means always healthy.
	Healthy func() bool
}

type Server struct {
	httpServer    *http.Server
	logger        zerolog.Logger
	mux           *http.ServeMux
	reconciler    *service.InputReconciler
	authorization *service.AuthorizationWorkflow
	state         *store.State
	audit         store.AuditStore
	healthy       func() bool
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:        d.Logger,
		mux:           mux,
		reconciler:    d.Reconciler,
		authorization: d.Authorization,
		state:         d.State,
		audit:         d.Audit,
		healthy:       d.Healthy,
	}

	mux.HandleFunc("POST /v1/inputs", s.handleInputs)
	mux.HandleFunc("POST /v1/scans", s.handleScan)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleInputs accepts a relay controller webhook. Once the body decodes the
// answer is always 200; malformed events are counted in the response.
func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	var (
		raws []service.RawInputEvent
		err  error
	)
	if isProtobuf(r) {
		raws, err = readInputsProto(r)
	} else {
		raws, err = readInputsJSON(r)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	resp := s.reconciler.HandleBatch(r.Context(), raws)

	if isProtobuf(r) {
		msg, err := inputResponseToProto(resp)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode input response")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.authorization.HandleScan(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("scan error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Load(r.Context()))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	recs, err := s.audit.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list audit events")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	out := make([]types.AuditEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, types.AuditEvent{
			ID:      rec.ID,
			Name:    rec.Name,
			Message: rec.Message,
			Tags:    rec.Tags,
			KV:      rec.KV,
			At:      rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.healthy != nil && !s.healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
