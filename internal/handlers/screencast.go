package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// HandleScreencast upgrades to WebSocket and streams live JPEG frames for a
// session. Query params: sessionId (required), quality (default 40), maxWidth
// (default 800), everyNthFrame (default 2), fps (1-30, default 5).
func (h *Handlers) HandleScreencast(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if h.Engine.Session(sessionID) == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	quality := queryParamInt(r, "quality", 40)
	maxWidth := queryParamInt(r, "maxWidth", 800)
	everyNth := queryParamInt(r, "everyNthFrame", 2)
	fps := queryParamInt(r, "fps", 5)
	if fps > 30 {
		fps = 30
	}
	minFrameInterval := time.Second / time.Duration(fps)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	frameCh := make(chan []byte, 3)
	if !h.Engine.StartScreencast(sessionID, quality, maxWidth, everyNth, frameCh) {
		return
	}
	defer h.Engine.StopScreencast(sessionID)

	slog.Info("screencast started", "session", sessionID, "quality", quality, "maxWidth", maxWidth)

	var once sync.Once
	done := make(chan struct{})
	go func() {
		for {
			_, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	var lastFrame time.Time
	for {
		select {
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			now := time.Now()
			if now.Sub(lastFrame) < minFrameInterval {
				continue
			}
			lastFrame = now
			if err := wsutil.WriteServerBinary(conn, frame); err != nil {
				return
			}
		case <-done:
			return
		case <-time.After(10 * time.Second):
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func queryParamInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}
