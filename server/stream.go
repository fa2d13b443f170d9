package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"concierge/chat"
	"concierge/config"
)

// streamRequest is the POST /api/chat/stream body.
type streamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Room           string `json:"room,omitempty"`
}

// handleStream runs one chat turn over SSE. Validation, rate limiting, and
// turn reservation all happen in Begin before a single byte of the stream
// is written, so rejected requests get a plain JSON error with the right
// status code instead of a partial stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	turn, err := s.orc.Begin(r.Context(), chat.TurnRequest{
		UserID:         sess.UserID,
		Role:           sess.Role,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Room:           req.Room,
	})
	if err != nil {
		status, code := beginStatus(err)
		writeErr(w, status, code, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev chat.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := turn.Run(r.Context(), emit); err != nil {
		// The stream already carried an error event to the client; the
		// server side only logs the cause.
		if config.Debug && config.DebugLog != nil {
			config.DebugLog.Printf("stream turn failed for user %s: %v", sess.UserID, err)
		}
	}
}

// beginStatus maps pre-stream turn errors onto HTTP status codes and
// envelope codes.
func beginStatus(err error) (int, string) {
	var (
		validation *chat.ValidationError
		authErr    *chat.AuthenticationError
		rateErr    *chat.RateLimitError
		confErr    *chat.ConfigurationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.As(err, &confErr):
		return http.StatusServiceUnavailable, "CONFIGURATION"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
