package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/frogbytes-xyz/authbridge/internal/config"
)

// PageDriver is the per-session browser control surface. The engine owns
// exactly one driver per live session; closing the driver must release the
// underlying browser process.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	SetUserAgent(ctx context.Context, ua string) error
	CaptureScreenshot(ctx context.Context, quality int) ([]byte, error)
	Click(ctx context.Context, x, y float64) error
	Type(ctx context.Context, text string) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	StartScreencast(quality, maxWidth, everyNth int, frames chan<- []byte) error
	StopScreencast() error
	Close() error
}

// LaunchFunc spawns a fresh browser process and returns its driver.
// Injectable so engine tests run without Chrome.
type LaunchFunc func(cfg *config.RuntimeConfig) (PageDriver, error)

// cdpDriver drives one isolated headless Chrome process over CDP. The
// allocator, browser context, and page form a single resource bundle with
// one teardown path (Close).
type cdpDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc

	actionTimeout   time.Duration
	navigateTimeout time.Duration
}

// LaunchChrome starts an isolated Chrome process with its own allocator and
// a single page. Frame-embedding restrictions are disabled so target sites
// render inside the remote-auth flow. Rolls back fully on partial failure.
func LaunchChrome(cfg *config.RuntimeConfig) (PageDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBinary))
	}
	if cfg.ChromeExtraFlags != "" {
		opts = append(opts, chromedp.Flag(cfg.ChromeExtraFlags, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)

	startCtx, startCancel := context.WithTimeout(pageCtx, 15*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		pageCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &cdpDriver{
		allocCtx:        allocCtx,
		allocCancel:     allocCancel,
		pageCtx:         pageCtx,
		pageCancel:      pageCancel,
		actionTimeout:   cfg.ActionTimeout,
		navigateTimeout: cfg.NavigateTimeout,
	}, nil
}

// run executes actions against the page with a bounded timeout, honoring
// cancellation from the caller's context.
func (d *cdpDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tCtx, tCancel := context.WithTimeout(d.pageCtx, timeout)
	defer tCancel()
	stop := context.AfterFunc(ctx, tCancel)
	defer stop()
	return chromedp.Run(tCtx, actions...)
}

func (d *cdpDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.navigateTimeout, chromedp.Navigate(url))
}

func (d *cdpDriver) SetUserAgent(ctx context.Context, ua string) error {
	return d.run(ctx, d.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetUserAgentOverride(ua).Do(ctx)
	}))
}

func (d *cdpDriver) CaptureScreenshot(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, d.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *cdpDriver) Click(ctx context.Context, x, y float64) error {
	return d.run(ctx, d.actionTimeout, chromedp.MouseClickXY(x, y))
}

func (d *cdpDriver) Type(ctx context.Context, text string) error {
	return d.run(ctx, d.actionTimeout, chromedp.KeyEvent(text))
}

func (d *cdpDriver) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := d.run(ctx, d.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (d *cdpDriver) StartScreencast(quality, maxWidth, everyNth int, frames chan<- []byte) error {
	chromedp.ListenTarget(d.pageCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		go func() {
			_ = chromedp.Run(d.pageCtx, chromedp.ActionFunc(func(c context.Context) error {
				return page.ScreencastFrameAck(e.SessionID).Do(c)
			}))
		}()
		data, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return
		}
		select {
		case frames <- data:
		default:
		}
	})

	return d.run(context.Background(), d.actionTimeout, chromedp.ActionFunc(func(c context.Context) error {
		return page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(int64(quality)).
			WithMaxWidth(int64(maxWidth)).
			WithMaxHeight(int64(maxWidth * 3 / 4)).
			WithEveryNthFrame(int64(everyNth)).
			Do(c)
	}))
}

func (d *cdpDriver) StopScreencast() error {
	return d.run(context.Background(), d.actionTimeout, chromedp.ActionFunc(func(c context.Context) error {
		return page.StopScreencast().Do(c)
	}))
}

// Close tears down page then allocator. Cancel funcs never panic, so the
// browser process is released even if an earlier CDP detach misbehaved.
func (d *cdpDriver) Close() error {
	if d.pageCancel != nil {
		d.pageCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}
