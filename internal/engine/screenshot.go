package engine

import (
	"context"
	"log/slog"
)

// Screenshot returns the latest JPEG frame for a session, or nil for
// unknown sessions and transient capture failures. A frame younger than
// ScreenshotTTL is served from cache so polling clients cannot overload
// the page.
func (e *Engine) Screenshot(ctx context.Context, sessionID string) []byte {
	e.mu.RLock()
	s := e.sessions[sessionID]
	ce := e.cache[sessionID]
	e.mu.RUnlock()

	if s == nil {
		return nil
	}

	now := e.now()
	if ce != nil && now.Sub(ce.capturedAt) < e.cfg.ScreenshotTTL {
		return ce.bytes
	}

	buf, err := s.driver.CaptureScreenshot(ctx, e.cfg.ScreenshotQuality)
	if err != nil {
		// Callers tolerate capture gaps; the polling loop keeps going.
		slog.Warn("screenshot capture failed", "sessionId", sessionID, "err", err)
		return nil
	}

	e.mu.Lock()
	// The session may have closed while we were capturing; never cache
	// bytes for a dead session.
	if _, live := e.sessions[sessionID]; live {
		e.cache[sessionID] = &cacheEntry{bytes: buf, capturedAt: now}
	}
	e.mu.Unlock()

	return buf
}
