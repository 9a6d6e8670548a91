// Package server is the thin HTTP shell over the pipeline driver. It
// authenticates the caller, submits the prompt, and maps the error
// taxonomy onto HTTP statuses. JWT verification itself lives behind the
// Authenticator interface; the core only consumes the subject id.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/pipeline"
	"github.com/dansasser/multi-corpus-governance-agent/internal/provider"
	"github.com/dansasser/multi-corpus-governance-agent/internal/system"
)

// ErrUnauthorized is returned by authenticators for missing or invalid
// credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator extracts the authenticated subject from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// StaticAuthenticator accepts a single bearer token and maps it to a
// fixed subject. Deployments replace it with a JWT verifier.
type StaticAuthenticator struct {
	Token   string
	Subject string
}

// Authenticate implements Authenticator.
func (a StaticAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" || token != a.Token {
		return "", ErrUnauthorized
	}
	return a.Subject, nil
}

// Server serves the prompt submission API and the health probe.
type Server struct {
	driver *pipeline.Driver
	auth   Authenticator
	memory *system.MemoryMonitor
	logger *zap.Logger
}

// New builds the HTTP shell.
func New(driver *pipeline.Driver, auth Authenticator, memory *system.MemoryMonitor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		driver: driver,
		auth:   auth,
		memory: memory,
		logger: logger.Named("server"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/prompts", s.handlePrompt)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req promptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	out, err := s.driver.Run(r.Context(), userID, req.Prompt)
	if err != nil {
		status, resp := classifyError(err)
		s.logger.Warn("prompt failed",
			zap.String("user_id", userID),
			zap.String("task_id", resp.TaskID),
			zap.Int("status", status),
			zap.Error(err))
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// classifyError maps the error taxonomy to HTTP statuses: governance
// denials 403, missing transformer 503, provider failures 502,
// everything else 500. The allocated task id rides along when known.
func classifyError(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	var te *pipeline.TaskError
	if errors.As(err, &te) {
		resp.TaskID = te.TaskID
	}

	if kind, ok := governance.KindOf(err); ok {
		resp.Kind = kind
		if kind == governance.KindTransformerRequiredUnavailable {
			return http.StatusServiceUnavailable, resp
		}
		return http.StatusForbidden, resp
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		resp.Kind = "provider_error"
		return http.StatusBadGateway, resp
	}

	return http.StatusInternalServerError, resp
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{"status": "ok"}
	if s.memory != nil {
		state := s.memory.State()
		health["memory"] = state
		if state.Level == system.LevelCritical {
			health["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
