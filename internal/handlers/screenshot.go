package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/frogbytes-xyz/authbridge/internal/web"
)

// HandleScreenshot serves the current JPEG frame for a session. The t query
// param is a client-side cache buster and is ignored. With output=file the
// frame is written to disk instead and the path returned.
func (h *Handlers) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("sessionId is required"))
		return
	}

	buf := h.Engine.Screenshot(r.Context(), sessionID)
	if buf == nil {
		if h.Engine.Session(sessionID) == nil {
			web.Error(w, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
			return
		}
		web.ErrorCode(w, http.StatusServiceUnavailable, "capture_failed", "screenshot unavailable", true, nil)
		return
	}

	if r.URL.Query().Get("output") == "file" {
		path, err := web.SafePath(h.Config.StateDir, "shot-"+sessionID+".jpg")
		if err != nil {
			web.Error(w, http.StatusBadRequest, err)
			return
		}
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			web.Error(w, http.StatusInternalServerError, err)
			return
		}
		web.JSON(w, http.StatusOK, map[string]any{"success": true, "path": path, "bytes": len(buf)})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf)
}
