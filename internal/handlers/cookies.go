package handlers

import (
	"fmt"
	"net/http"

	"github.com/frogbytes-xyz/authbridge/internal/web"
)

// HandleCookies extracts the session's cookie jar in Netscape cookies.txt
// form. Extraction failure leaves the session open so the caller can retry.
func (h *Handlers) HandleCookies(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("sessionId is required"))
		return
	}
	if h.Engine.Session(sessionID) == nil {
		web.Error(w, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
		return
	}

	txt, count := h.Engine.Cookies(r.Context(), sessionID)
	if txt == "" {
		web.ErrorCode(w, http.StatusInternalServerError, "cookie_extraction_failed", "could not read cookies", true, nil)
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"cookies":     txt,
		"cookieCount": count,
	})
}

// HandleCloseSession tears down a session and its registry entry. Closing an
// unknown session succeeds.
func (h *Handlers) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("sessionId is required"))
		return
	}
	h.Engine.CloseSession(sessionID)
	h.Registry.Unregister(sessionID)
	web.JSON(w, http.StatusOK, map[string]any{"success": true})
}
