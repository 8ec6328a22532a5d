// Package httpapi exposes work items, sign-in and live updates over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"opsdesk/auth"
	"opsdesk/workitem"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type WorkItemService interface {
	Create(ctx context.Context, params workitem.CreateParams) (workitem.WorkItem, error)
	Get(ctx context.Context, id string) (workitem.WorkItem, error)
	List(ctx context.Context, filter workitem.Filter) ([]workitem.WorkItem, error)
	Transition(ctx context.Context, params workitem.TransitionParams) (workitem.WorkItem, error)
}

type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

type AuthService interface {
	TokenVerifier
	Register(ctx context.Context, req auth.RegisterRequest) (auth.Member, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetMember(ctx context.Context, id string) (auth.Member, error)
}

// Server holds the handlers. Realtime may be nil when live updates are
// served elsewhere.
type Server struct {
	workItems WorkItemService
	auth      AuthService
	realtime  http.Handler
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewServer(workItems WorkItemService, authService AuthService, realtime http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		workItems: workItems,
		auth:      authService,
		realtime:  realtime,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/me", s.handleMe)
		r.Get("/api/work-items", s.handleListWorkItems)
		r.Post("/api/work-items", s.handleCreateWorkItem)
		r.Get("/api/work-items/{id}", s.handleGetWorkItem)
		r.Get("/api/work-items/{id}/history", s.handleWorkItemHistory)
		r.Post("/api/work-items/{id}/transitions", s.handleTransition)
	})

	if s.realtime != nil {
		// The socket authenticates itself; browsers cannot set headers on upgrade.
		r.Get("/ws", s.realtime.ServeHTTP)
	}
	return r
}

// Authenticator adapts a TokenVerifier to resolve identities for the
// WebSocket endpoint.
func Authenticator(verifier TokenVerifier) func(r *http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			return "", auth.ErrInvalidToken
		}
		id, _, err := verifier.VerifyToken(token)
		return id, err
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Sign in to continue.")
			return
		}
		userID, role, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Your session has expired. Sign in again.")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func userFromContext(ctx context.Context) (string, auth.Role) {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return id, role
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeDomainError maps service errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if fields, ok := validationFields(err); ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: workitem.Describe(workitem.ErrInvalidInput), Fields: fields})
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect.")
		return
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Your session has expired. Sign in again.")
		return
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "duplicate_email", "An account with this email already exists.")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "Passwords need at least 8 characters.")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", workitem.Describe(workitem.ErrInvalidInput))
		return
	case errors.Is(err, auth.ErrRoleNotPermitted):
		writeError(w, http.StatusForbidden, "forbidden", "Only a manager can create a manager account.")
		return
	case errors.Is(err, auth.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "not_found", "This account no longer exists.")
		return
	}

	code := workitem.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "not_found":
		status = http.StatusNotFound
	case "forbidden":
		status = http.StatusForbidden
	case "invalid_transition":
		status = http.StatusConflict
	case "missing_comment", "invalid_input":
		status = http.StatusBadRequest
	case "transition_failed":
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, status, code, workitem.Describe(err))
}
