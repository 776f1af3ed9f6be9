// Package server exposes the HTTP surface: task streaming, input injection,
// workbench diagnostics, and health.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/acauret/infrastructure-agent/broker"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/pkg/logging"
	"github.com/acauret/infrastructure-agent/workbench"
)

// Server wires the broker and workbench manager to HTTP handlers.
type Server struct {
	broker  *broker.Broker
	manager *workbench.Manager
	specs   []workbench.Spec
	logger  *slog.Logger
}

// New constructs a Server.
func New(b *broker.Broker, manager *workbench.Manager, specs []workbench.Spec) *Server {
	return &Server{
		broker:  b,
		manager: manager,
		specs:   specs,
		logger:  logging.WithComponent("server"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("POST /input", s.handleInput)
	mux.HandleFunc("GET /mcp-check", s.handleMCPCheck)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type runRequest struct {
	Prompt string `json:"prompt"`
}

type inputRequest struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

// handleRun starts a task and streams its events as NDJSON until the done
// sentinel. A client disconnect cancels the task through the stream.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := s.broker.StartTask(r.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, agenterrors.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		s.logger.Error("task start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start task")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writer := event.NewNDJSONWriter(w)
	for ev := range stream.Events(r.Context()) {
		if err := writer.Write(ev); err != nil {
			s.logger.Debug("client write failed", "session", stream.ID(), "error", err)
			return
		}
		flusher.Flush()
	}
}

// handleInput delivers operator input to an in-flight session.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Session == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	if err := s.broker.SubmitInput(req.Session, req.Text); err != nil {
		if errors.Is(err, agenterrors.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("input submission failed", "session", req.Session, "error", err)
		writeError(w, http.StatusInternalServerError, "could not submit input")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMCPCheck runs the connect-only workbench diagnostic.
func (s *Server) handleMCPCheck(w http.ResponseWriter, r *http.Request) {
	results := s.manager.Check(r.Context(), s.specs)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
