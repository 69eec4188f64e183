package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/frogbytes-xyz/authbridge/internal/web"
)

type interactRequest struct {
	SessionID string  `json:"sessionId"`
	Action    string  `json:"action"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Text      string  `json:"text,omitempty"`
}

// HandleInteract forwards a click or keystroke into the session page.
// Delivery is best effort: success reports whether the event was dispatched,
// never whether the page reacted.
func (h *Handlers) HandleInteract(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.SessionID == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("sessionId is required"))
		return
	}
	if h.Engine.Session(req.SessionID) == nil {
		web.Error(w, http.StatusNotFound, fmt.Errorf("session %s not found", req.SessionID))
		return
	}

	var ok bool
	switch req.Action {
	case "click":
		ok = h.Engine.Click(r.Context(), req.SessionID, req.X, req.Y)
	case "type":
		if req.Text == "" {
			web.Error(w, http.StatusBadRequest, fmt.Errorf("text is required for type"))
			return
		}
		ok = h.Engine.Keypress(r.Context(), req.SessionID, req.Text)
	default:
		web.Error(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"success": ok})
}
