// Package handlers provides the HTTP surface of the bridge server.
package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/frogbytes-xyz/authbridge/internal/config"
	"github.com/frogbytes-xyz/authbridge/internal/engine"
	"github.com/frogbytes-xyz/authbridge/internal/registry"
	"github.com/frogbytes-xyz/authbridge/internal/web"
)

const maxBodySize = 1 << 20

// EngineAPI is the engine surface the handlers drive. Tests substitute a mock.
type EngineAPI interface {
	CreateSession(ctx context.Context, spec engine.CreateSpec) (*engine.Session, error)
	Session(sessionID string) *engine.Session
	SessionCount() int
	Screenshot(ctx context.Context, sessionID string) []byte
	Click(ctx context.Context, sessionID string, x, y float64) bool
	Keypress(ctx context.Context, sessionID, text string) bool
	Cookies(ctx context.Context, sessionID string) (string, int)
	CloseSession(sessionID string)
	StartScreencast(sessionID string, quality, maxWidth, everyNth int, frames chan<- []byte) bool
	StopScreencast(sessionID string)
}

type metrics struct {
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	latencyMsTotal atomic.Uint64
	rateLimited    atomic.Uint64
}

type Handlers struct {
	Engine   EngineAPI
	Registry *registry.Registry
	Config   *config.RuntimeConfig
	Version  string

	startedAt time.Time
	metrics   metrics

	// starting serializes check-then-create per (userId, url) so concurrent
	// start requests for the same pair share one session.
	starting singleflight.Group
}

func New(e EngineAPI, reg *registry.Registry, cfg *config.RuntimeConfig) *Handlers {
	return &Handlers{
		Engine:    e,
		Registry:  reg,
		Config:    cfg,
		startedAt: time.Now(),
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("POST /remote-browser/start", h.HandleStart)
	mux.HandleFunc("GET /remote-browser/active", h.HandleActive)
	mux.HandleFunc("GET /remote-browser/screenshot", h.HandleScreenshot)
	mux.HandleFunc("POST /remote-browser/interact", h.HandleInteract)
	mux.HandleFunc("GET /remote-browser/cookies", h.HandleCookies)
	mux.HandleFunc("DELETE /remote-browser/cookies", h.HandleCloseSession)
	mux.HandleFunc("GET /remote-browser/screencast", h.HandleScreencast)
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{
		"status":     "ok",
		"version":    h.Version,
		"sessions":   h.Engine.SessionCount(),
		"registered": h.Registry.Len(),
		"uptimeSec":  int(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	total := h.metrics.requestsTotal.Load()
	var avgMs uint64
	if total > 0 {
		avgMs = h.metrics.latencyMsTotal.Load() / total
	}
	web.JSON(w, 200, map[string]any{
		"requestsTotal":  total,
		"requestsFailed": h.metrics.requestsFailed.Load(),
		"rateLimited":    h.metrics.rateLimited.Load(),
		"avgLatencyMs":   avgMs,
		"sessions":       h.Engine.SessionCount(),
	})
}
