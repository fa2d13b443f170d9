// Package server exposes the chat engine over HTTP. It owns routing,
// session resolution, the SSE stream for chat turns, and the JSON error
// envelope shared by all endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"concierge/auth"
	"concierge/chat"
	"concierge/config"
	"concierge/store"
)

// Server wires the orchestrator and conversation store into HTTP handlers.
type Server struct {
	orc      *chat.Orchestrator
	store    store.Store
	sessions auth.SessionResolver
	router   chi.Router
}

// New builds the HTTP surface.
func New(orc *chat.Orchestrator, st store.Store, sessions auth.SessionResolver) *Server {
	s := &Server{
		orc:      orc,
		store:    st,
		sessions: sessions,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(s.withSession)
		r.Post("/stream", s.handleStream)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// withSession resolves the caller's identity and rejects unauthenticated
// requests before any handler runs.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Resolve(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}
		ctx := contextWithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	roleFilter := config.Role(r.URL.Query().Get("role"))
	if roleFilter != "" && !config.IsValidRole(roleFilter) {
		writeErr(w, http.StatusBadRequest, "VALIDATION", "unknown role filter")
		return
	}

	convs, err := s.store.ListForUser(sess.UserID, roleFilter, 50)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	id := chi.URLParam(r, "id")

	conv, err := s.store.Get(id, sess.UserID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "failed to load conversation")
		return
	}
	if conv == nil {
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.store.Delete(id, sess.UserID); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeErr(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errEnvelope is the uniform non-stream error shape.
type errEnvelope struct {
	Error errBody `json:"error"`
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errEnvelope{Error: errBody{Code: code, Message: message}})
}
