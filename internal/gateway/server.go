package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEKXH/familiar/internal/app"
	"github.com/MEKXH/familiar/internal/approval"
	"github.com/MEKXH/familiar/internal/auth"
	"github.com/MEKXH/familiar/internal/bus"
	"github.com/MEKXH/familiar/internal/config"
	"github.com/MEKXH/familiar/internal/version"
)

// Backend is the sidecar surface served over HTTP. *app.App implements it.
type Backend interface {
	Stream(ctx context.Context, prompt, sessionID string, send func(bus.Event) error) error
	Approve(requestID, decision string, remember bool) error
	PendingApprovals() []approval.Request
	SettingsPayload() app.SettingsPayload
	UpdateSettings(update app.SettingsUpdate) (app.SettingsPayload, error)
	Login(ctx context.Context) auth.Status
	Logout(ctx context.Context) auth.Status
	AuthStatus(ctx context.Context) auth.Status
	Health() app.Health
	MetricsHandler() http.Handler
}

type Server struct {
	cfg        config.GatewayConfig
	backend    Backend
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, backend Backend) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 8765
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:     cfg,
		backend: backend,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	mux := NewHandler(s.cfg.Token, s.backend)
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type queryRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

type approveRequest struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	Remember  bool   `json:"remember"`
}

func NewHandler(token string, backend Backend) http.Handler {
	h := &handler{token: strings.TrimSpace(token), backend: backend}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.only(h.health, http.MethodGet))
	mux.HandleFunc("/version", h.only(h.version, http.MethodGet))
	mux.HandleFunc("/metrics", h.protected(h.metrics, http.MethodGet))
	mux.HandleFunc("/query", h.protected(h.query, http.MethodPost))
	mux.HandleFunc("/approve", h.protected(h.approve, http.MethodPost))
	mux.HandleFunc("/approvals", h.protected(h.approvals, http.MethodGet))
	mux.HandleFunc("/settings", h.protected(h.settings, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/auth/claude/login", h.protected(h.login, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/auth/claude/logout", h.protected(h.logout, http.MethodPost))
	mux.HandleFunc("/auth/claude/status", h.protected(h.authStatus, http.MethodGet))
	return mux
}

type handler struct {
	token   string
	backend Backend
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, requestID string)

func (h *handler) only(next handlerFunc, methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !allowed(r.Method, methods) {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		next(w, r, requestID)
	}
}

func (h *handler) protected(next handlerFunc, methods ...string) http.HandlerFunc {
	return h.only(func(w http.ResponseWriter, r *http.Request, requestID string) {
		if h.token != "" && !isAuthorized(r, h.token) {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next(w, r, requestID)
	}, methods...)
}

func allowed(method string, methods []string) bool {
	for _, m := range methods {
		if method == m {
			return true
		}
	}
	return false
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, h.backend.Health())
}

func (h *handler) version(w http.ResponseWriter, _ *http.Request, requestID string) {
	info := version.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    info.Version,
		"commit":     info.Commit,
		"request_id": requestID,
	})
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request, _ string) {
	h.backend.MetricsHandler().ServeHTTP(w, r)
}

func (h *handler) query(w http.ResponseWriter, r *http.Request, requestID string) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := bus.WithRequestID(r.Context(), requestID)
	err := h.backend.Stream(ctx, prompt, strings.TrimSpace(req.SessionID), func(ev bus.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("sse: marshal event", "request_id", requestID, "error", err)
			return nil
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Debug("sse: stream ended early", "request_id", requestID, "error", err)
	}
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request, requestID string) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "request_id is required")
		return
	}

	err := h.backend.Approve(req.RequestID, req.Decision, req.Remember)
	switch {
	case err == nil:
		slog.Info("permission resolved", "request_id", req.RequestID, "decision", req.Decision, "remember", req.Remember)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case errors.Is(err, approval.ErrInvalidDecision):
		writeError(w, requestID, http.StatusBadRequest, "invalid_decision", "decision must be 'allow' or 'deny'")
	case errors.Is(err, approval.ErrRequestNotFound):
		writeError(w, requestID, http.StatusNotFound, "not_found", "no pending request "+req.RequestID)
	default:
		slog.Error("approve failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to resolve request")
	}
}

func (h *handler) approvals(w http.ResponseWriter, _ *http.Request, requestID string) {
	pending := h.backend.PendingApprovals()
	if pending == nil {
		pending = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals":  pending,
		"request_id": requestID,
	})
}

func (h *handler) settings(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, h.backend.SettingsPayload())
		return
	}

	var update app.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	payload, err := h.backend.UpdateSettings(update)
	if err != nil {
		if errors.Is(err, app.ErrInvalidSettings) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_settings", err.Error())
			return
		}
		slog.Error("update settings failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, h.backend.Login(r.Context()))
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, h.backend.Logout(r.Context()))
}

func (h *handler) authStatus(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, h.backend.AuthStatus(r.Context()))
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return bus.NewRequestID()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
