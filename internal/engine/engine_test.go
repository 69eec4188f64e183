package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/frogbytes-xyz/authbridge/internal/config"
)

type fakeDriver struct {
	mu        sync.Mutex
	navigated []string
	userAgent string
	typed     []string
	clicks    [][2]float64
	captures  int
	closes    int
	cookies   []*network.Cookie
	frame     []byte

	navErr    error
	uaErr     error
	capErr    error
	clickErr  error
	typeErr   error
	cookieErr error
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return d.navErr
}

func (d *fakeDriver) SetUserAgent(_ context.Context, ua string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userAgent = ua
	return d.uaErr
}

func (d *fakeDriver) CaptureScreenshot(_ context.Context, _ int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capErr != nil {
		return nil, d.capErr
	}
	d.captures++
	// Distinct bytes per capture so cache hits are observable.
	return append([]byte{0xFF, 0xD8}, byte(d.captures)), nil
}

func (d *fakeDriver) Click(_ context.Context, x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, [2]float64{x, y})
	return d.clickErr
}

func (d *fakeDriver) Type(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = append(d.typed, text)
	return d.typeErr
}

func (d *fakeDriver) Cookies(_ context.Context) ([]*network.Cookie, error) {
	if d.cookieErr != nil {
		return nil, d.cookieErr
	}
	return d.cookies, nil
}

func (d *fakeDriver) StartScreencast(_, _, _ int, frames chan<- []byte) error {
	if d.frame != nil {
		frames <- d.frame
	}
	return nil
}

func (d *fakeDriver) StopScreencast() error { return nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDriver) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func testConfig() *config.RuntimeConfig {
	return &config.RuntimeConfig{
		ViewportWidth:     1280,
		ViewportHeight:    800,
		ScreenshotQuality: 80,
		ScreenshotTTL:     time.Second,
		CacheSweepTTL:     5 * time.Minute,
		SessionTTL:        time.Hour,
		SweepInterval:     10 * time.Millisecond,
		ActionTimeout:     time.Second,
		NavigateTimeout:   time.Second,
	}
}

// countingLauncher tracks how many browser processes were spawned.
type countingLauncher struct {
	mu      sync.Mutex
	count   int
	block   chan struct{}
	drivers []*fakeDriver
	err     error
	next    *fakeDriver
}

func (l *countingLauncher) launch(*config.RuntimeConfig) (PageDriver, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.count++
	d := l.next
	if d == nil {
		d = &fakeDriver{}
	}
	l.next = nil
	l.drivers = append(l.drivers, d)
	return d, nil
}

func (l *countingLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func TestCreateSessionGeneratesID(t *testing.T) {
	l := &countingLauncher{}
	e := NewWithLaunch(testConfig(), l.launch)

	s, err := e.CreateSession(context.Background(), CreateSpec{TargetURL: "https://example.com/login", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == "" {
		t.Error("expected engine-generated session ID")
	}
	if s.UserID != "u1" || s.TargetURL != "https://example.com/login" {
		t.Errorf("session = %+v", s)
	}
	if e.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", e.SessionCount())
	}
}

func TestCreateSessionRequiresURL(t *testing.T) {
	e := NewWithLaunch(testConfig(), (&countingLauncher{}).launch)
	if _, err := e.CreateSession(context.Background(), CreateSpec{}); err == nil {
		t.Error("expected error for empty target url")
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	l := &countingLauncher{}
	e := NewWithLaunch(testConfig(), l.launch)

	s1, err := e.CreateSession(context.Background(), CreateSpec{SessionID: "s1", TargetURL: "https://x"})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := e.CreateSession(context.Background(), CreateSpec{SessionID: "s1", TargetURL: "https://other"})
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("same sessionID must return the same session")
	}
	if l.launches() != 1 {
		t.Errorf("launches = %d, want 1", l.launches())
	}
}

func TestCreateSessionDeduplicatesConcurrent(t *testing.T) {
	l := &countingLauncher{block: make(chan struct{})}
	e := NewWithLaunch(testConfig(), l.launch)

	const callers = 8
	results := make(chan *Session, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.CreateSession(context.Background(), CreateSpec{SessionID: "dup", TargetURL: "https://x"})
			results <- s
			errs <- err
		}()
	}

	// Let all callers pile onto the in-flight creation, then release it.
	time.Sleep(50 * time.Millisecond)
	close(l.block)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	var first *Session
	for s := range results {
		if first == nil {
			first = s
		} else if s != first {
			t.Error("concurrent callers must receive the same session")
		}
	}
	if l.launches() != 1 {
		t.Errorf("launches = %d, want exactly 1 browser process", l.launches())
	}
}

func TestCreateSessionNavigationFailureSwallowed(t *testing.T) {
	l := &countingLauncher{next: &fakeDriver{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	e := NewWithLaunch(testConfig(), l.launch)

	s, err := e.CreateSession(context.Background(), CreateSpec{SessionID: "s1", TargetURL: "https://bad"})
	if err != nil {
		t.Fatalf("navigation failure must not fail creation: %v", err)
	}
	if s == nil || e.SessionCount() != 1 {
		t.Error("session should be live despite failed navigation")
	}
}

func TestCreateSessionRollbackOnUserAgentFailure(t *testing.T) {
	d := &fakeDriver{uaErr: errors.New("detached")}
	l := &countingLauncher{next: d}
	e := NewWithLaunch(testConfig(), l.launch)

	_, err := e.CreateSession(context.Background(), CreateSpec{SessionID: "s1", TargetURL: "https://x", UserAgent: "UA/1.0"})
	if err == nil {
		t.Fatal("expected creation error")
	}
	if d.closeCount() != 1 {
		t.Errorf("driver closes = %d, want 1 (no orphaned process)", d.closeCount())
	}
	if e.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", e.SessionCount())
	}
}

func TestClickAndKeypress(t *testing.T) {
	l := &countingLauncher{}
	e := NewWithLaunch(testConfig(), l.launch)
	ctx := context.Background()

	if e.Click(ctx, "unknown", 1, 2) {
		t.Error("click on unknown session must return false")
	}
	if e.Keypress(ctx, "unknown", "hi") {
		t.Error("keypress on unknown session must return false")
	}

	s, _ := e.CreateSession(ctx, CreateSpec{SessionID: "s1", TargetURL: "https://x"})
	d := l.drivers[0]

	if !e.Click(ctx, s.ID, 120, 45) {
		t.Error("click should succeed")
	}
	if len(d.clicks) != 1 || d.clicks[0] != [2]float64{120, 45} {
		t.Errorf("clicks = %v", d.clicks)
	}
	if !e.Keypress(ctx, s.ID, "hunter2") {
		t.Error("keypress should succeed")
	}
	if len(d.typed) != 1 || d.typed[0] != "hunter2" {
		t.Errorf("typed = %v", d.typed)
	}

	d.clickErr = errors.New("target crashed")
	if e.Click(ctx, s.ID, 1, 1) {
		t.Error("click must report false on dispatch failure")
	}
	d.typeErr = errors.New("target crashed")
	if e.Keypress(ctx, s.ID, "x") {
		t.Error("keypress must report false on dispatch failure")
	}
}

func TestCloseSessionIdempotentAndLeakFree(t *testing.T) {
	l := &countingLauncher{}
	e := NewWithLaunch(testConfig(), l.launch)
	ctx := context.Background()

	var closedIDs []string
	e.SetOnClose(func(id string) { closedIDs = append(closedIDs, id) })

	e.CloseSession("unknown") // no-op

	s, _ := e.CreateSession(ctx, CreateSpec{SessionID: "s1", TargetURL: "https://x"})
	if e.Screenshot(ctx, s.ID) == nil {
		t.Fatal("expected screenshot before close")
	}

	e.CloseSession(s.ID)
	e.CloseSession(s.ID) // second close must not panic or re-fire hooks

	if e.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", e.SessionCount())
	}
	if got := e.Screenshot(ctx, s.ID); got != nil {
		t.Error("screenshot after close must be nil (cache evicted)")
	}
	if l.drivers[0].closeCount() != 1 {
		t.Errorf("driver closes = %d, want 1", l.drivers[0].closeCount())
	}
	if len(closedIDs) != 1 || closedIDs[0] != "s1" {
		t.Errorf("onClose fired %v, want exactly once for s1", closedIDs)
	}
}

func TestCloseAll(t *testing.T) {
	l := &countingLauncher{}
	e := NewWithLaunch(testConfig(), l.launch)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.CreateSession(ctx, CreateSpec{SessionID: id, TargetURL: "https://x/" + id}); err != nil {
			t.Fatal(err)
		}
	}
	e.CloseAll()
	if e.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", e.SessionCount())
	}
	for i, d := range l.drivers {
		if d.closeCount() != 1 {
			t.Errorf("driver %d closes = %d, want 1", i, d.closeCount())
		}
	}
}
