package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// sessionView is the JSON form of a live session.
type sessionView struct {
	Key   string `json:"key"`
	ID    string `json:"id"`
	State string `json:"state"`
}

func newSessionView(s *session.Session) sessionView {
	return sessionView{Key: s.Key(), ID: s.ID(), State: s.State().String()}
}

// handleListSessions returns every live session.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	keys := s.sessions.Sessions()
	views := make([]sessionView, 0, len(keys))
	for _, key := range keys {
		// A session may finish between the two calls.
		if sess, ok := s.sessions.Session(key); ok {
			views = append(views, newSessionView(sess))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

// handleGetSession returns a single live session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	sess, ok := s.sessions.Session(key)
	if !ok {
		writeNotFound(w, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

// handleDisconnectSession asks a live session to shut down. The session
// finishes asynchronously, so the response is 202.
func (s *Server) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.sessions.Session(key); !ok {
		writeNotFound(w, "session not found")
		return
	}

	if err := s.bus.Publish(bus.Call(bus.EventDisconnect, key), bus.DisconnectCall{SessionKey: key}); err != nil {
		s.logger.Error("publishing disconnect failed", "session_key", key, "error", err)
		writeInternalError(w, "failed to request disconnect")
		return
	}

	s.logger.Info("session disconnect requested", "session_key", key,
		"subject", claimsFromContext(r.Context()).Subject)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"key":    key,
		"status": "disconnecting",
	})
}
