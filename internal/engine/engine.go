// Package engine owns the remote-browser sessions: one isolated headless
// Chrome process per session, with screenshot capture, input forwarding,
// cookie extraction, and staleness-driven cleanup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/frogbytes-xyz/authbridge/internal/config"
)

// CreateSpec describes a session to create. SessionID may be empty, in
// which case the engine generates one.
type CreateSpec struct {
	SessionID string
	TargetURL string
	UserID    string
	UserAgent string
}

// Session is one live remote-browser instance plus its bookkeeping.
type Session struct {
	ID        string
	TargetURL string
	UserID    string
	UserAgent string
	CreatedAt time.Time

	driver PageDriver
}

type cacheEntry struct {
	bytes      []byte
	capturedAt time.Time
}

type Engine struct {
	cfg    *config.RuntimeConfig
	launch LaunchFunc

	// Concurrent creates for the same sessionID share one launch.
	creating singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	cache    map[string]*cacheEntry

	onClose func(sessionID string)
	now     func() time.Time
}

func New(cfg *config.RuntimeConfig) *Engine {
	return NewWithLaunch(cfg, LaunchChrome)
}

// NewWithLaunch builds an engine with an injected launcher. Tests use this
// to substitute a fake driver.
func NewWithLaunch(cfg *config.RuntimeConfig, launch LaunchFunc) *Engine {
	return &Engine{
		cfg:      cfg,
		launch:   launch,
		sessions: make(map[string]*Session),
		cache:    make(map[string]*cacheEntry),
		now:      time.Now,
	}
}

// SetOnClose registers a hook invoked after every session teardown,
// whatever triggered it. The composition root wires registry eviction here.
func (e *Engine) SetOnClose(fn func(sessionID string)) {
	e.onClose = fn
}

func (e *Engine) session(id string) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[id]
}

// Session returns the live session for id, or nil.
func (e *Engine) Session(id string) *Session {
	return e.session(id)
}

func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Sessions returns a snapshot of live sessions.
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// CreateSession starts a browser session. Idempotent for a known sessionID,
// and concurrent calls for the same sessionID share a single launch: at most
// one browser process per sessionID, ever.
func (e *Engine) CreateSession(ctx context.Context, spec CreateSpec) (*Session, error) {
	if spec.TargetURL == "" {
		return nil, errors.New("target url required")
	}
	if spec.SessionID == "" {
		spec.SessionID = uuid.NewString()
	}

	if s := e.session(spec.SessionID); s != nil {
		return s, nil
	}

	v, err, _ := e.creating.Do(spec.SessionID, func() (any, error) {
		// Re-check under the flight: a previous flight may have finished
		// between our lookup and Do.
		if s := e.session(spec.SessionID); s != nil {
			return s, nil
		}
		return e.launchSession(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (e *Engine) launchSession(ctx context.Context, spec CreateSpec) (*Session, error) {
	drv, err := e.launch(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	ua := spec.UserAgent
	if ua == "" {
		ua = e.cfg.DefaultUserAgent
	}
	if ua != "" {
		if err := drv.SetUserAgent(ctx, ua); err != nil {
			// Rollback: no orphaned process when setup fails partway.
			_ = drv.Close()
			return nil, fmt.Errorf("user agent override: %w", err)
		}
	}

	// Navigation failure is not fatal: the session stays usable and the
	// user can navigate inside the remote page.
	if err := drv.Navigate(ctx, spec.TargetURL); err != nil {
		slog.Warn("initial navigation failed, session still usable",
			"sessionId", spec.SessionID, "url", spec.TargetURL, "err", err)
	}

	s := &Session{
		ID:        spec.SessionID,
		TargetURL: spec.TargetURL,
		UserID:    spec.UserID,
		UserAgent: ua,
		CreatedAt: e.now(),
		driver:    drv,
	}

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()

	slog.Info("session created", "sessionId", s.ID, "url", s.TargetURL, "userId", s.UserID)
	return s, nil
}

// Click forwards a synthetic mouse click at page coordinates. Returns false
// for unknown sessions or dispatch failures; never an error escape.
func (e *Engine) Click(ctx context.Context, sessionID string, x, y float64) bool {
	s := e.session(sessionID)
	if s == nil {
		return false
	}
	if err := s.driver.Click(ctx, x, y); err != nil {
		slog.Warn("click dispatch failed", "sessionId", sessionID, "x", x, "y", y, "err", err)
		return false
	}
	return true
}

// Keypress types text into the currently focused element. Same failure
// contract as Click.
func (e *Engine) Keypress(ctx context.Context, sessionID, text string) bool {
	s := e.session(sessionID)
	if s == nil {
		return false
	}
	if err := s.driver.Type(ctx, text); err != nil {
		slog.Warn("keypress dispatch failed", "sessionId", sessionID, "err", err)
		return false
	}
	return true
}

// CloseSession tears the session down. Idempotent; unknown IDs are a no-op.
// Table row, cache entry, and browser process are all released even if the
// driver close reports an error.
func (e *Engine) CloseSession(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	delete(e.cache, sessionID)
	e.mu.Unlock()

	if !ok {
		return
	}

	if err := s.driver.StopScreencast(); err != nil {
		slog.Debug("stop screencast on close", "sessionId", sessionID, "err", err)
	}
	if err := s.driver.Close(); err != nil {
		slog.Warn("browser close", "sessionId", sessionID, "err", err)
	}
	if e.onClose != nil {
		e.onClose(sessionID)
	}
	slog.Info("session closed", "sessionId", sessionID)
}

// CloseAll tears down every live session. Used on shutdown.
func (e *Engine) CloseAll() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	for _, id := range ids {
		e.CloseSession(id)
	}
}

// StartScreencast begins streaming frames for a session into frames.
// Returns false if the session is unknown or the stream could not start.
func (e *Engine) StartScreencast(sessionID string, quality, maxWidth, everyNth int, frames chan<- []byte) bool {
	s := e.session(sessionID)
	if s == nil {
		return false
	}
	if err := s.driver.StartScreencast(quality, maxWidth, everyNth, frames); err != nil {
		slog.Warn("start screencast failed", "sessionId", sessionID, "err", err)
		return false
	}
	return true
}

// StopScreencast stops a session's frame stream. No-op for unknown sessions.
func (e *Engine) StopScreencast(sessionID string) {
	s := e.session(sessionID)
	if s == nil {
		return
	}
	if err := s.driver.StopScreencast(); err != nil {
		slog.Debug("stop screencast", "sessionId", sessionID, "err", err)
	}
}
