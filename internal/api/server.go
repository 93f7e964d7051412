// Package api exposes sessions over HTTP and progress over MCP.
package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Catalog  *catalog.Catalog
	Sessions *session.Controller
	Metrics  *metrics.Collector // optional
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,max=254"`
	Password    string `json:"password" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type messageRequest struct {
	Text string `json:"text" validate:"required,max=8000"`
}

type summaryRequest struct {
	Summary string `json:"summary" validate:"required,max=8000"`
}

type authResponse struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expires_at"`
	UserID    string                `json:"user_id"`
	Email     string                `json:"email"`
	Dashboard session.DashboardView `json:"dashboard"`
}

// NewAppHandler returns the JSON API. Everything except /health, /metrics
// and the register and login endpoints requires a bearer session token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Get("/catalog", handleCatalog(deps))

	r.Post("/auth/register", handleRegister(deps))
	r.Post("/auth/login", handleLogin(deps))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Sessions))

		r.Post("/auth/logout", handleLogout(deps))
		r.Get("/dashboard", handleDashboard(deps))
		r.Get("/report", handleReport(deps))
		r.Get("/export", handleExport(deps))
		r.Post("/back", handleBack(deps))

		r.Route("/topics/{module}/{topic}", func(r chi.Router) {
			r.Get("/", handleSelectTopic(deps))
			r.Post("/messages", handleSendMessage(deps))
			r.Post("/complete", handleRequestCompletion(deps))
			r.Post("/resume", handleResumeChat(deps))
			r.Post("/summary", handleSubmitSummary(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCatalog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"modules": deps.Catalog.Modules()})
	}
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, err, nil)
		return false
	}
	return true
}

func writeAuth(w http.ResponseWriter, code int, deps AppDeps, s *session.Session) {
	writeJSON(w, code, authResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		UserID:    s.UserID,
		Email:     s.Email,
		Dashboard: deps.Sessions.Dashboard(s),
	})
}

func handleRegister(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !decode(w, r, &req) {
			return
		}
		s, err := deps.Sessions.Register(r.Context(), req.Email, req.Password, req.DisplayName)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeAuth(w, http.StatusCreated, deps, s)
	}
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decode(w, r, &req) {
			return
		}
		s, err := deps.Sessions.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeAuth(w, http.StatusOK, deps, s)
	}
}

func handleLogout(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		if err := deps.Sessions.Logout(r.Context(), s.Token); err != nil {
			writeError(w, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDashboard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Sessions.Dashboard(sessionFrom(r.Context())))
	}
}

func topicKey(r *http.Request) catalog.TopicKey {
	return catalog.TopicKey{
		Module: catalog.ModuleID(chi.URLParam(r, "module")),
		Topic:  chi.URLParam(r, "topic"),
	}
}

// chatResult writes a chat view, or the error with the view the client
// should keep showing.
func chatResult(w http.ResponseWriter, v session.ChatView, err error) {
	if err != nil {
		var view any
		if v.Key != "" {
			view = v
		}
		writeError(w, err, view)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func handleSelectTopic(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Sessions.SelectTopic(r.Context(), sessionFrom(r.Context()), topicKey(r))
		chatResult(w, v, err)
	}
}

func handleSendMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !decode(w, r, &req) {
			return
		}
		v, err := deps.Sessions.SendMessage(r.Context(), sessionFrom(r.Context()), topicKey(r), req.Text)
		chatResult(w, v, err)
	}
}

func handleRequestCompletion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Sessions.RequestCompletion(r.Context(), sessionFrom(r.Context()), topicKey(r))
		chatResult(w, v, err)
	}
}

func handleResumeChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Sessions.ResumeChat(r.Context(), sessionFrom(r.Context()), topicKey(r))
		chatResult(w, v, err)
	}
}

func handleSubmitSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req summaryRequest
		if !decode(w, r, &req) {
			return
		}
		v, err := deps.Sessions.SubmitSummary(r.Context(), sessionFrom(r.Context()), topicKey(r), req.Summary)
		chatResult(w, v, err)
	}
}

func handleBack(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Sessions.Back(sessionFrom(r.Context())))
	}
}

func handleReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Sessions.Report(r.Context(), sessionFrom(r.Context()))
		if err != nil {
			writeError(w, err, v)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, body := deps.Sessions.Export(sessionFrom(r.Context()))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write([]byte(body))
	}
}
