// Package client is the HTTP client for the remote-browser bridge API.
// It implements controller.Bridge so the host UI never deals with raw
// endpoints, coordinate spaces, or timers.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/frogbytes-xyz/authbridge/internal/controller"
)

type Client struct {
	rc      *resty.Client
	baseURL string
}

var _ controller.Bridge = (*Client)(nil)

func New(baseURL, token string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{rc: rc, baseURL: strings.TrimRight(baseURL, "/")}
}

type apiResult struct {
	Success        bool   `json:"success"`
	SessionID      string `json:"sessionId"`
	Reused         bool   `json:"reused"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
	Cookies        string `json:"cookies"`
	CookieCount    int    `json:"cookieCount"`
	Found          bool   `json:"found"`
	Message        string `json:"message"`
	Error          string `json:"error"`
}

func (r *apiResult) err(op string, httpErr bool) error {
	if r.Error != "" {
		return fmt.Errorf("%s: %s", op, r.Error)
	}
	if httpErr {
		return fmt.Errorf("%s: request failed", op)
	}
	return nil
}

func (c *Client) ActiveSession(ctx context.Context, userID, targetURL string) (*controller.ActiveSession, error) {
	var out apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"userId": userID, "url": targetURL}).
		SetResult(&out).
		Get("/remote-browser/active")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, out.err("active session lookup", true)
	}
	if !out.Found {
		return nil, nil
	}
	return &controller.ActiveSession{
		SessionID:      out.SessionID,
		ViewportWidth:  out.ViewportWidth,
		ViewportHeight: out.ViewportHeight,
	}, nil
}

func (c *Client) Start(ctx context.Context, req controller.StartRequest) (controller.StartResponse, error) {
	var out apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"url":       req.URL,
			"userAgent": req.UserAgent,
			"userId":    req.UserID,
			"sessionId": req.SessionID,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/remote-browser/start")
	if err != nil {
		return controller.StartResponse{}, err
	}
	if resp.IsError() || !out.Success {
		if e := out.err("start session", resp.IsError()); e != nil {
			return controller.StartResponse{}, e
		}
		return controller.StartResponse{}, errors.New("start session: request failed")
	}
	return controller.StartResponse{
		SessionID:      out.SessionID,
		Reused:         out.Reused,
		ViewportWidth:  out.ViewportWidth,
		ViewportHeight: out.ViewportHeight,
	}, nil
}

// ScreenshotURL builds the poll URL; ts is a cache-buster the server ignores.
func (c *Client) ScreenshotURL(sessionID string, ts int64) string {
	return fmt.Sprintf("%s/remote-browser/screenshot?sessionId=%s&t=%d",
		c.baseURL, url.QueryEscape(sessionID), ts)
}

// FetchScreenshot retrieves raw frame bytes from an absolute URL.
func (c *Client) FetchScreenshot(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.rc.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch screenshot: status %d", resp.StatusCode())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("fetch screenshot: unexpected content type %q", ct)
	}
	return resp.Body(), nil
}

func (c *Client) interact(ctx context.Context, body map[string]any) error {
	var out apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/remote-browser/interact")
	if err != nil {
		return err
	}
	if resp.IsError() || !out.Success {
		if e := out.err("interact", resp.IsError()); e != nil {
			return e
		}
		return errors.New("interact: not acknowledged")
	}
	return nil
}

func (c *Client) Click(ctx context.Context, sessionID string, x, y float64) error {
	return c.interact(ctx, map[string]any{
		"sessionId": sessionID,
		"action":    "click",
		"x":         x,
		"y":         y,
	})
}

func (c *Client) Type(ctx context.Context, sessionID, text string) error {
	return c.interact(ctx, map[string]any{
		"sessionId": sessionID,
		"action":    "type",
		"text":      text,
	})
}

func (c *Client) Cookies(ctx context.Context, sessionID string) (string, int, error) {
	var out apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetResult(&out).
		SetError(&out).
		Get("/remote-browser/cookies")
	if err != nil {
		return "", 0, err
	}
	if resp.IsError() || !out.Success {
		if e := out.err("extract cookies", resp.IsError()); e != nil {
			return "", 0, e
		}
		return "", 0, errors.New("extract cookies: request failed")
	}
	return out.Cookies, out.CookieCount, nil
}

// Close tears the remote session down. The cookies DELETE doubles as the
// generic close operation.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	var out apiResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetResult(&out).
		SetError(&out).
		Delete("/remote-browser/cookies")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return out.err("close session", true)
	}
	return nil
}
