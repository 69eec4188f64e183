package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/frogbytes-xyz/authbridge/internal/engine"
	"github.com/frogbytes-xyz/authbridge/internal/web"
)

type startRequest struct {
	URL       string `json:"url"`
	UserID    string `json:"userId,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// HandleStart launches a browser session, or attaches to the live session
// already registered for the same user and URL.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.URL == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("invalid url: %w", err))
		return
	}

	spec := engine.CreateSpec{
		SessionID: req.SessionID,
		TargetURL: req.URL,
		UserID:    req.UserID,
		UserAgent: req.UserAgent,
	}

	if req.UserID == "" {
		s, err := h.Engine.CreateSession(r.Context(), spec)
		if err != nil {
			web.ErrorCode(w, http.StatusBadGateway, "session_create_failed", err.Error(), true, nil)
			return
		}
		web.JSON(w, http.StatusOK, h.startResponse(s.ID, false, "session started"))
		return
	}

	// Check-then-create runs inside the flight so two racing starts for the
	// same (userId, url) cannot both miss the registry and launch twice.
	key := req.UserID + "\x00" + req.URL
	v, err, shared := h.starting.Do(key, func() (any, error) {
		if ent := h.Registry.Existing(req.UserID, req.URL); ent != nil {
			if h.Engine.Session(ent.SessionID) != nil {
				return startOutcome{sessionID: ent.SessionID, reused: true}, nil
			}
			// registry entry outlived its session
			h.Registry.Unregister(ent.SessionID)
		}
		s, err := h.Engine.CreateSession(r.Context(), spec)
		if err != nil {
			return nil, err
		}
		h.Registry.Register(s.ID, req.UserID, req.URL)
		return startOutcome{sessionID: s.ID}, nil
	})
	if err != nil {
		web.ErrorCode(w, http.StatusBadGateway, "session_create_failed", err.Error(), true, nil)
		return
	}

	out := v.(startOutcome)
	reused := out.reused || shared
	if reused {
		slog.Info("session reused", "session", out.sessionID, "user", req.UserID)
		web.JSON(w, http.StatusOK, h.startResponse(out.sessionID, true, "attached to existing session"))
		return
	}
	web.JSON(w, http.StatusOK, h.startResponse(out.sessionID, false, "session started"))
}

type startOutcome struct {
	sessionID string
	reused    bool
}

func (h *Handlers) startResponse(sessionID string, reused bool, msg string) map[string]any {
	return map[string]any{
		"success":        true,
		"sessionId":      sessionID,
		"reused":         reused,
		"viewportWidth":  h.Config.ViewportWidth,
		"viewportHeight": h.Config.ViewportHeight,
		"message":        msg,
	}
}

// HandleActive reports whether a live session exists for a user and URL.
func (h *Handlers) HandleActive(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	target := r.URL.Query().Get("url")
	if userID == "" || target == "" {
		web.Error(w, http.StatusBadRequest, fmt.Errorf("userId and url are required"))
		return
	}
	ent := h.Registry.Existing(userID, target)
	if ent == nil || h.Engine.Session(ent.SessionID) == nil {
		web.JSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{
		"found":          true,
		"sessionId":      ent.SessionID,
		"viewportWidth":  h.Config.ViewportWidth,
		"viewportHeight": h.Config.ViewportHeight,
	})
}
