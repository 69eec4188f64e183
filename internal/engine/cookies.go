package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/network"
)

const cookiesTxtHeader = "# Netscape HTTP Cookie File\n" +
	"# https://curl.se/docs/http-cookies.html\n" +
	"# This file was generated by authbridge.\n\n"

// Cookies reads every cookie visible to the session's page and serializes
// them in Netscape cookies.txt format, returning the text and cookie count.
// Empty string and zero for unknown sessions or extraction failures.
func (e *Engine) Cookies(ctx context.Context, sessionID string) (string, int) {
	s := e.session(sessionID)
	if s == nil {
		return "", 0
	}

	cookies, err := s.driver.Cookies(ctx)
	if err != nil {
		slog.Warn("cookie extraction failed", "sessionId", sessionID, "err", err)
		return "", 0
	}

	return FormatCookiesTxt(cookies), len(cookies)
}

// FormatCookiesTxt renders cookies in the flat cookies.txt format understood
// by curl, wget, and yt-dlp: one tab-separated line per cookie with
// domain, domain-scope flag, path, secure flag, expiry epoch, name, value.
func FormatCookiesTxt(cookies []*network.Cookie) string {
	var b strings.Builder
	b.WriteString(cookiesTxtHeader)
	for _, c := range cookies {
		domainFlag := "FALSE"
		if strings.HasPrefix(c.Domain, ".") {
			domainFlag = "TRUE"
		}
		secureFlag := "FALSE"
		if c.Secure {
			secureFlag = "TRUE"
		}
		// Session cookies carry no expiry; 0 marks them as such.
		var expiry int64
		if c.Expires > 0 {
			expiry = int64(c.Expires)
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, domainFlag, c.Path, secureFlag, expiry, c.Name, c.Value)
	}
	return b.String()
}
