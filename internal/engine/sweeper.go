package engine

import (
	"context"
	"log/slog"
	"time"
)

// CleanupStale closes every session older than SessionTTL and evicts every
// cached screenshot older than CacheSweepTTL.
func (e *Engine) CleanupStale() {
	now := e.now()

	e.mu.RLock()
	var stale []string
	for id, s := range e.sessions {
		if now.Sub(s.CreatedAt) > e.cfg.SessionTTL {
			stale = append(stale, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range stale {
		slog.Info("closing stale session", "sessionId", id, "ttl", e.cfg.SessionTTL)
		e.CloseSession(id)
	}

	e.mu.Lock()
	for id, ce := range e.cache {
		if now.Sub(ce.capturedAt) > e.cfg.CacheSweepTTL {
			delete(e.cache, id)
		}
	}
	e.mu.Unlock()
}

// RunSweeper runs the cleanup sweep at SweepInterval until ctx is cancelled.
// It is a safety net for sessions nothing else got around to closing; in
// normal operation it runs for the lifetime of the process.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CleanupStale()
		}
	}
}
