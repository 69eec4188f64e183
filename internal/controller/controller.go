// Package controller drives a remote-browser authentication flow on behalf
// of a host UI: it starts (or attaches to) a session, polls screenshots,
// forwards input, and walks the idle → authenticating → authenticated |
// failed state machine under three independent timers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseStarting       Phase = "starting"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
	PhaseFailed         Phase = "failed"
)

type StartRequest struct {
	URL       string
	UserAgent string
	UserID    string
	SessionID string
}

type StartResponse struct {
	SessionID      string
	Reused         bool
	ViewportWidth  int
	ViewportHeight int
}

// ActiveSession describes a live server-side session the controller can
// attach to instead of launching a new one.
type ActiveSession struct {
	SessionID      string
	ViewportWidth  int
	ViewportHeight int
}

// Bridge is everything the controller needs from the remote-browser server.
type Bridge interface {
	// ActiveSession reports the live session for (userID, url), nil if none.
	ActiveSession(ctx context.Context, userID, url string) (*ActiveSession, error)
	Start(ctx context.Context, req StartRequest) (StartResponse, error)
	ScreenshotURL(sessionID string, ts int64) string
	FetchScreenshot(ctx context.Context, url string) ([]byte, error)
	Click(ctx context.Context, sessionID string, x, y float64) error
	Type(ctx context.Context, sessionID, text string) error
	Cookies(ctx context.Context, sessionID string) (string, int, error)
	Close(ctx context.Context, sessionID string) error
}

// Timeouts hold every duration the controller schedules on. Tests compress
// them to milliseconds.
type Timeouts struct {
	// Auth is how long authentication may take before it is declared failed.
	Auth time.Duration
	// Warn is when the "closing soon" warning fires.
	Warn time.Duration
	// AutoClose is the hard security ceiling on session lifetime. It fires
	// regardless of authentication progress and is not an error.
	AutoClose time.Duration
	// Poll is the screenshot polling interval.
	Poll time.Duration
}

type Callbacks struct {
	OnFrame         func(frame []byte)
	OnWarning       func(remaining time.Duration)
	OnAutoClose     func()
	OnAuthenticated func(cookies string)
	OnError         func(message string, retryable bool)
}

type Controller struct {
	bridge    Bridge
	timeouts  Timeouts
	cb        Callbacks
	userID    string
	targetURL string
	userAgent string

	mu           sync.Mutex
	phase        Phase
	sessionID    string
	startedAt    time.Time
	warningShown bool
	visible      bool
	frame        []byte
	viewportW    int
	viewportH    int

	authTimer  *time.Timer
	warnTimer  *time.Timer
	closeTimer *time.Timer
	pollCancel context.CancelFunc
}

func New(bridge Bridge, timeouts Timeouts, cb Callbacks, userID, targetURL, userAgent string) *Controller {
	return &Controller{
		bridge:    bridge,
		timeouts:  timeouts,
		cb:        cb,
		userID:    userID,
		targetURL: targetURL,
		userAgent: userAgent,
		phase:     PhaseIdle,
		visible:   true,
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) WarningShown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warningShown
}

// LastFrame returns the most recently displayed screenshot bytes.
func (c *Controller) LastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Start begins authentication: it attaches to an existing session for
// (userID, targetURL) when the server has one, creates a fresh one
// otherwise, then arms the timers and starts screenshot polling.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("cannot start authentication from %s", phase)
	}
	c.phase = PhaseStarting
	c.mu.Unlock()

	var sessionID string
	vw, vh := 0, 0
	if as, err := c.bridge.ActiveSession(ctx, c.userID, c.targetURL); err == nil && as != nil {
		sessionID = as.SessionID
		vw, vh = as.ViewportWidth, as.ViewportHeight
		slog.Info("attaching to existing session", "sessionId", sessionID, "userId", c.userID)
	}

	if sessionID == "" {
		resp, err := c.bridge.Start(ctx, StartRequest{
			URL:       c.targetURL,
			UserAgent: c.userAgent,
			UserID:    c.userID,
		})
		if err != nil {
			c.fail("could not start remote browser: "+err.Error(), true)
			return err
		}
		sessionID = resp.SessionID
		vw, vh = resp.ViewportWidth, resp.ViewportHeight
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.phase != PhaseStarting {
		// Close or a terminal transition raced the start.
		c.mu.Unlock()
		pollCancel()
		c.requestClose(sessionID)
		return errors.New("authentication cancelled during start")
	}
	c.phase = PhaseAuthenticating
	c.sessionID = sessionID
	c.startedAt = time.Now()
	c.warningShown = false
	if vw > 0 {
		c.viewportW, c.viewportH = vw, vh
	}
	c.pollCancel = pollCancel
	c.armTimersLocked()
	c.mu.Unlock()

	go c.pollLoop(pollCtx)
	return nil
}

// armTimersLocked starts the three independent timers. Caller holds c.mu.
func (c *Controller) armTimersLocked() {
	c.authTimer = time.AfterFunc(c.timeouts.Auth, c.onAuthTimeout)
	c.warnTimer = time.AfterFunc(c.timeouts.Warn, c.onWarn)
	c.closeTimer = time.AfterFunc(c.timeouts.AutoClose, c.onAutoClose)
}

func (c *Controller) cancelTimersLocked() {
	for _, t := range []*time.Timer{c.authTimer, c.warnTimer, c.closeTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.authTimer, c.warnTimer, c.closeTimer = nil, nil, nil
}

func (c *Controller) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func (c *Controller) onAuthTimeout() {
	c.fail("authentication timed out", false)
}

func (c *Controller) onWarn() {
	c.mu.Lock()
	if c.phase != PhaseAuthenticating || c.warningShown {
		c.mu.Unlock()
		return
	}
	c.warningShown = true
	remaining := c.timeouts.AutoClose - c.timeouts.Warn
	cb := c.cb.OnWarning
	c.mu.Unlock()

	if cb != nil {
		cb(remaining)
	}
}

// onAutoClose is the security ceiling: it ends the session whatever state
// authentication is in. Not an error; the host is told to dismiss the UI.
func (c *Controller) onAutoClose() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.phase = PhaseIdle
	c.warningShown = false
	c.stopPollingLocked()
	c.cancelTimersLocked()
	cb := c.cb.OnAutoClose
	c.mu.Unlock()

	if id != "" {
		c.requestClose(id)
	}
	if cb != nil {
		cb()
	}
}

// fail moves to the terminal failed state: polling stops, all timers are
// cancelled, the error is surfaced. The remote session is left open so a
// retry can attach to it.
func (c *Controller) fail(message string, retryable bool) {
	c.mu.Lock()
	if c.phase == PhaseAuthenticated || c.phase == PhaseFailed {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseFailed
	c.stopPollingLocked()
	c.cancelTimersLocked()
	cb := c.cb.OnError
	c.mu.Unlock()

	if cb != nil {
		cb(message, retryable)
	}
}

// Complete is the user's "I've completed login" signal: extract cookies and
// finish. Extraction failure is retryable and leaves the session open.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseAuthenticating {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("cannot complete from %s", phase)
	}
	id := c.sessionID
	c.mu.Unlock()

	cookies, count, err := c.bridge.Cookies(ctx, id)
	if err != nil {
		msg := "cookie extraction failed: " + err.Error()
		c.fail(msg, true)
		return errors.New(msg)
	}
	if count == 0 {
		msg := "no cookies were extracted; finish logging in first"
		c.fail(msg, true)
		return errors.New(msg)
	}

	c.mu.Lock()
	c.phase = PhaseAuthenticated
	c.stopPollingLocked()
	c.cancelTimersLocked()
	cb := c.cb.OnAuthenticated
	c.mu.Unlock()

	if cb != nil {
		cb(cookies)
	}
	return nil
}

// Reset returns a terminal controller to idle so the flow can be retried.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseStarting || c.phase == PhaseAuthenticating {
		return errors.New("cannot reset while authenticating")
	}
	c.phase = PhaseIdle
	c.warningShown = false
	c.frame = nil
	return nil
}

// Close is the unmount path: stop polling, cancel every timer, and request
// session teardown without blocking the host.
func (c *Controller) Close() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.phase = PhaseIdle
	c.warningShown = false
	c.stopPollingLocked()
	c.cancelTimersLocked()
	c.mu.Unlock()

	if id != "" {
		c.requestClose(id)
	}
}

func (c *Controller) requestClose(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.bridge.Close(ctx, sessionID); err != nil {
			slog.Warn("session close request failed", "sessionId", sessionID, "err", err)
		}
	}()
}

// ForwardClick rescales display coordinates to the session viewport and
// forwards the click. Failures are logged, never surfaced.
func (c *Controller) ForwardClick(ctx context.Context, x, y float64, displayW, displayH int) {
	c.mu.Lock()
	id := c.sessionID
	phase := c.phase
	vw, vh := c.viewportW, c.viewportH
	c.mu.Unlock()

	if phase != PhaseAuthenticating || id == "" {
		return
	}
	if displayW > 0 && vw > 0 {
		x = x * float64(vw) / float64(displayW)
	}
	if displayH > 0 && vh > 0 {
		y = y * float64(vh) / float64(displayH)
	}
	if err := c.bridge.Click(ctx, id, x, y); err != nil {
		slog.Warn("click forward failed", "sessionId", id, "err", err)
	}
}

// ForwardText types into the remote page's focused element. Same contract
// as ForwardClick.
func (c *Controller) ForwardText(ctx context.Context, text string) {
	c.mu.Lock()
	id := c.sessionID
	phase := c.phase
	c.mu.Unlock()

	if phase != PhaseAuthenticating || id == "" {
		return
	}
	if err := c.bridge.Type(ctx, id, text); err != nil {
		slog.Warn("text forward failed", "sessionId", id, "err", err)
	}
}

// SetVisible gates polling on host-page visibility. Polling pauses while
// hidden and resumes within one interval of becoming visible.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.mu.Unlock()
}

// pollLoop fetches a fresh frame every Poll interval. Sequential by
// construction: at most one fetch is in flight, and the displayed frame
// only advances when a fetch fully succeeds.
func (c *Controller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.timeouts.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		visible := c.visible
		id := c.sessionID
		c.mu.Unlock()
		if !visible || id == "" {
			continue
		}

		url := c.bridge.ScreenshotURL(id, time.Now().UnixMilli())
		frame, err := FetchAndValidate(ctx, c.bridge, url)
		if err != nil {
			slog.Debug("screenshot poll failed, keeping previous frame", "sessionId", id, "err", err)
			continue
		}

		c.mu.Lock()
		c.frame = frame
		cb := c.cb.OnFrame
		c.mu.Unlock()
		if cb != nil {
			cb(frame)
		}
	}
}
