// Package server is the HTTP surface: session lifecycle, chat turns,
// direct query access, validation history, and doc index management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flightlens/internal/agent"
	"flightlens/internal/docs"
	"flightlens/internal/ingest"
	"flightlens/internal/logging"
	"flightlens/internal/session"
	"flightlens/internal/tabular"
)

// Turner runs one conversation turn. The agent controller implements
// it; tests script it.
type Turner interface {
	Turn(ctx context.Context, sess *session.Session, message string) (*agent.TurnResult, error)
}

// DocService is the slice of the doc index the server manages.
type DocService interface {
	Status() docs.Status
	Refresh(ctx context.Context) error
	ClearCache() error
}

// Server wires the HTTP routes to the application components.
type Server struct {
	registry   *session.Registry
	controller Turner
	docs       DocService
	router     chi.Router
}

// New builds the server and its route table. docSvc may be nil when no
// doc index is configured; the docs endpoints then report accordingly.
func New(registry *session.Registry, controller Turner, docSvc DocService) *Server {
	s := &Server{registry: registry, controller: controller, docs: docSvc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/chatbot", func(r chi.Router) {
		r.Post("/init", s.handleInit)
		r.Post("/chat", s.handleChat)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/{id}/validate", s.handleValidate)
			r.Get("/{id}/schema", s.handleSchema)
			r.Post("/{id}/query", s.handleQuery)
			r.Get("/{id}/validation-history", s.handleValidationHistory)
		})
		r.Route("/docs", func(r chi.Router) {
			r.Get("/status", s.handleDocsStatus)
			r.Post("/refresh", s.handleDocsRefresh)
			r.Post("/clear-cache", s.handleDocsClearCache)
		})
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Server("%s %s -> %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Warnf("response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInit ingests a flight log and opens a session. The log lives
// under a logData key; a bare log object is accepted too.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	raw := body
	if wrapped, ok := body["logData"]; ok {
		raw = nil
		if err := json.Unmarshal(wrapped, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "logData must be a JSON object")
			return
		}
	}

	sess, err := s.registry.Create(raw)
	if err != nil {
		// A log rejected before ingestion is the caller's problem; a
		// failure while materializing tables is ours.
		if errors.Is(err, ingest.ErrInvalidLog) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "log ingestion failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sess.ID,
		"timestamp": sess.CreatedAt,
		"summary":   sess.Summary,
	})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// handleChat runs one turn. Safety refusals are 200s with the refusal
// text; only transport-level failures are errors.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "sessionId and message are required")
		return
	}

	sess, err := s.registry.Get(req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	result, err := s.controller.Turn(r.Context(), sess, req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "turn failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := chi.URLParam(r, "id")
	sess, err := s.registry.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"valid": false, "error": err.Error()})
		return nil
	}
	return sess
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":        true,
		"sessionId":    sess.ID,
		"messageCount": sess.MessageCount(),
		"createdAt":    sess.CreatedAt,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schemas":       sess.Summary.Schemas,
		"tablesCreated": sess.Summary.TablesCreated,
		"skipped":       sess.Summary.Skipped,
	})
}

type queryRequest struct {
	SQL string `json:"sql"`
}

// handleQuery gives direct read-only SQL access to a session's tables.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SQL == "" {
		writeError(w, http.StatusBadRequest, "a non-empty sql statement is required")
		return
	}

	columns, rows, err := sess.Store.Query(req.SQL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns":  columns,
		"rows":     tabular.NarrowRows(rows),
		"rowCount": len(rows),
	})
}

func (s *Server) handleValidationHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sess.ID,
		"reports":   sess.Validations.List(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

func (s *Server) handleDocsStatus(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, s.docs.Status())
}

func (s *Server) handleDocsRefresh(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "doc index not configured")
		return
	}
	if err := s.docs.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "doc refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.docs.Status())
}

func (s *Server) handleDocsClearCache(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "doc index not configured")
		return
	}
	if err := s.docs.ClearCache(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
