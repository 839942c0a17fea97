// Package server exposes diagram sessions over HTTP to the browser page that
// hosts the diagram editor and relays the model's tool calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dannyswat/vcdiagram"
	"github.com/dannyswat/vcdiagram/internal/config"
	"github.com/dannyswat/vcdiagram/internal/store"
)

const maxBodyBytes = 8 << 20

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type sessionEntry struct {
	session    *vcdiagram.Session
	dispatcher *vcdiagram.Dispatcher
	surface    *queueSurface
}

type Server struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New builds a server. st may be nil, in which case history lives in memory.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		logger:   logger.With(slog.String("component", "server")),
		sessions: make(map[string]*sessionEntry),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(apiKey(s.cfg.Server.APIKey))
		api.Get("/models", s.listModels)
		api.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/diagram", s.getDiagram)
			r.Post("/diagram", s.loadDiagram)
			r.Post("/diagram/clear", s.clearDiagram)
			r.Post("/diagram/export", s.exportDiagram)
			r.Post("/tools", s.handleToolCall)
			r.Post("/messages/{message_id}/text", s.handleAssistantText)
			r.Get("/history", s.listHistory)
			r.Get("/history/{index}", s.getSnapshot)
			r.Get("/history/{index}/diff", s.diffSnapshot)
			r.Post("/history/{index}/restore", s.restoreSnapshot)
			r.Get("/surface/events", s.pollSurface)
			r.Post("/surface/export", s.resolveExport)
		})
	})
	return r
}

// lookup returns the session for id, creating it on first use. A new
// session is seeded with the history persisted for id.
func (s *Server) lookup(ctx context.Context, id string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e, nil
	}

	surface := newQueueSurface(s.cfg.Server.QueueSize)
	logger := s.logger.With(slog.String("session", id))
	opts := []vcdiagram.Option{
		vcdiagram.WithExportTimeout(s.cfg.ExportTimeout()),
		vcdiagram.WithLogger(logger),
	}
	if s.store != nil {
		h := s.store.ForSession(id)
		history, err := h.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", id, err)
		}
		opts = append(opts, vcdiagram.WithHistoryStore(h), vcdiagram.WithHistory(history))
	}
	session := vcdiagram.NewSession(surface, opts...)
	e := &sessionEntry{
		session:    session,
		dispatcher: vcdiagram.NewDispatcher(session, logger),
		surface:    surface,
	}
	s.sessions[id] = e
	activeSessions.Inc()
	return e, nil
}

type sessionKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session_id")
		if !validSessionID.MatchString(id) {
			writeErr(w, http.StatusBadRequest, "invalid_session", "session id must be 1-64 letters, digits, '-' or '_'")
			return
		}
		e, err := s.lookup(r.Context(), id)
		if err != nil {
			s.logger.Error("session init failed", slog.String("session", id), slog.Any("error", err))
			writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, e)))
	})
}

func entryFrom(r *http.Request) *sessionEntry {
	return r.Context().Value(sessionKey{}).(*sessionEntry)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":        s.cfg.PublicModels(),
		"default_model": s.cfg.DefaultModel,
	})
}

type diagramResponse struct {
	XML   string `json:"xml"`
	Hash  string `json:"hash"`
	Empty bool   `json:"empty"`
}

func (s *Server) getDiagram(w http.ResponseWriter, r *http.Request) {
	doc := entryFrom(r).session.Current()
	xml := doc.String()
	if r.URL.Query().Get("format") == "pretty" {
		xml = doc.Format()
	}
	writeJSON(w, http.StatusOK, diagramResponse{XML: xml, Hash: doc.Hash(), Empty: doc.IsEmpty()})
}

type xmlRequest struct {
	XML string `json:"xml"`
}

func (s *Server) loadDiagram(w http.ResponseWriter, r *http.Request) {
	var req xmlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := vcdiagram.ParseDocument(req.XML)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	e := entryFrom(r)
	if err := e.session.Load(doc); err != nil {
		writeDomainErr(w, err)
		return
	}
	cur := e.session.Current()
	writeJSON(w, http.StatusOK, diagramResponse{XML: cur.String(), Hash: cur.Hash(), Empty: cur.IsEmpty()})
}

func (s *Server) clearDiagram(w http.ResponseWriter, r *http.Request) {
	e := entryFrom(r)
	if err := e.session.Clear(); err != nil {
		writeDomainErr(w, err)
		return
	}
	e.dispatcher.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// exportDiagram fetches the live diagram from the browser, formatted the way
// it is attached to chat messages.
func (s *Server) exportDiagram(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	xml, err := entryFrom(r).session.ExportRequest(r.Context())
	observeExport(start, err)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"xml": vcdiagram.FormatXML(xml)})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var call vcdiagram.ToolCall
	if !decodeJSON(w, r, &call) {
		return
	}
	if call.ID == "" || call.Name == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "toolCallId and toolName are required")
		return
	}

	e := entryFrom(r)
	before := e.session.CurrentXML()
	result, err := e.dispatcher.HandleToolCall(r.Context(), call)
	recordToolCall(call, result, before != e.session.CurrentXML())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

type textRequest struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (s *Server) handleAssistantText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	changed, err := entryFrom(r).dispatcher.HandleAssistantText(chi.URLParam(r, "message_id"), req.Text, req.Final)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

type historyItem struct {
	Index     int              `json:"index"`
	ID        string           `json:"id"`
	Hash      string           `json:"hash"`
	Source    vcdiagram.Source `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	history := entryFrom(r).session.History()
	items := make([]historyItem, len(history))
	for i, snap := range history {
		items[i] = historyItem{Index: i, ID: snap.ID, Hash: snap.Hash, Source: snap.Source, CreatedAt: snap.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

// snapshotAt resolves the {index} parameter, writing the error response when
// it does not name a history entry.
func snapshotAt(w http.ResponseWriter, r *http.Request) (vcdiagram.Snapshot, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
		return vcdiagram.Snapshot{}, false
	}
	history := entryFrom(r).session.History()
	if index < 0 || index >= len(history) {
		writeErr(w, http.StatusNotFound, "not_found", fmt.Sprintf("no history entry %d", index))
		return vcdiagram.Snapshot{}, false
	}
	return history[index], true
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := snapshotAt(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// diffSnapshot lists the changes from a history entry to the current diagram.
func (s *Server) diffSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := snapshotAt(w, r)
	if !ok {
		return
	}
	old, err := vcdiagram.ParseDocument(snap.XML)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	ops := vcdiagram.Diff(old, entryFrom(r).session.Current())
	if ops == nil {
		ops = []vcdiagram.Operation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":    vcdiagram.SummarizeOps(ops),
		"operations": ops,
	})
}

func (s *Server) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
		return
	}
	e := entryFrom(r)
	if err := e.session.Restore(index); err != nil {
		writeDomainErr(w, err)
		return
	}
	cur := e.session.Current()
	writeJSON(w, http.StatusOK, diagramResponse{XML: cur.String(), Hash: cur.Hash(), Empty: cur.IsEmpty()})
}

// pollSurface long-polls for events the browser has to act on.
func (s *Server) pollSurface(w http.ResponseWriter, r *http.Request) {
	wait := s.cfg.LongPoll()
	if v := r.URL.Query().Get("wait"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeErr(w, http.StatusBadRequest, "invalid_request", "wait must be a non-negative number of seconds")
			return
		}
		if d := time.Duration(secs) * time.Second; d < wait {
			wait = d
		}
	}
	events := entryFrom(r).surface.Next(r.Context(), wait)
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type exportAnswer struct {
	RequestID string `json:"request_id"`
	XML       string `json:"xml"`
}

func (s *Server) resolveExport(w http.ResponseWriter, r *http.Request) {
	var req exportAnswer
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	accepted := entryFrom(r).session.ResolveExport(req.RequestID, req.XML)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}

func recordToolCall(call vcdiagram.ToolCall, result *vcdiagram.ToolResult, changed bool) {
	switch call.Name {
	case vcdiagram.ToolDisplayDiagram:
		outcome := "unchanged"
		switch {
		case result != nil && result.IsError:
			outcome = "rejected"
		case changed:
			outcome = "changed"
		}
		displayFramesTotal.WithLabelValues(outcome).Inc()
	case vcdiagram.ToolEditDiagram:
		if result == nil {
			return
		}
		outcome := "applied"
		if result.IsError {
			outcome = "failed"
		}
		editBatchesTotal.WithLabelValues(outcome).Inc()
	}
}

func observeExport(start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, vcdiagram.ErrExportTimeout):
		outcome = "timeout"
	case errors.Is(err, vcdiagram.ErrConcurrentExport):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	}
	exportDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// writeDomainErr maps diagram errors to HTTP statuses.
func writeDomainErr(w http.ResponseWriter, err error) {
	var editErr *vcdiagram.EditError
	switch {
	case errors.As(err, &editErr):
		writeErr(w, http.StatusUnprocessableEntity, "edit_failed", err.Error())
	case errors.Is(err, vcdiagram.ErrMalformedDocument):
		writeErr(w, http.StatusUnprocessableEntity, "malformed_document", err.Error())
	case errors.Is(err, vcdiagram.ErrExportTimeout):
		writeErr(w, http.StatusGatewayTimeout, "export_timeout", err.Error())
	case errors.Is(err, vcdiagram.ErrConcurrentExport):
		writeErr(w, http.StatusConflict, "export_in_progress", err.Error())
	case errors.Is(err, vcdiagram.ErrHistoryIndex):
		writeErr(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrQueueFull):
		writeErr(w, http.StatusServiceUnavailable, "surface_unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErr(w, http.StatusServiceUnavailable, "canceled", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorBody struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, apiErrorBody{Error: apiError{Code: errCode, Message: message}})
}
