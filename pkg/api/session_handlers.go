package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/payment"
)

// SessionHandlers expose live payment sessions
type SessionHandlers struct {
	sessions Sessions
}

// NewSessionHandlers creates a new SessionHandlers
func NewSessionHandlers(sessions Sessions) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

// RegisterRoutes registers session routes
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions/{session_id}", h.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{session_id}", h.CloseSession).Methods(http.MethodDelete)
	router.HandleFunc("/sessions/{session_id}/continue", h.Continue).Methods(http.MethodPost)
}

func (h *SessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*payment.Session, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "session_id")
	if !ok {
		return nil, false
	}
	session, found := h.sessions.Get(id)
	if !found {
		httputil.WriteNotFound(w, "payment session not found")
		return nil, false
	}
	return session, true
}

// GetSession handles GET /sessions/{session_id}
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, newSessionResponse(session))
}

// CloseSession handles DELETE /sessions/{session_id}
func (h *SessionHandlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "session_id")
	if !ok {
		return
	}
	if !h.sessions.Remove(id) {
		httputil.WriteNotFound(w, "payment session not found")
		return
	}
	httputil.WriteNoContent(w)
}

// Continue handles POST /sessions/{session_id}/continue
func (h *SessionHandlers) Continue(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if state := session.State(); state != payment.StateConfirmed {
		httputil.WriteError(w, http.StatusConflict, fmt.Errorf("payment session is %s, not confirmed", state))
		return
	}
	session.ContinueNow()
	_ = httputil.WriteJSON(w, http.StatusOK, newSessionResponse(session))
}
