// Package render loads community pages in headless Chrome so forms built by
// scripts can be read.
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/models"
)

// Browser starts a fresh headless Chrome per render. Renders are rare (only
// when the static page has no usable fields) so no browser is kept warm.
type Browser struct {
	baseURL    string
	chromePath string
	userAgent  string
	timeout    time.Duration
	settle     time.Duration
	logger     arbor.ILogger
}

// Option configures a Browser.
type Option func(*Browser)

// WithChromePath sets the Chrome executable.
func WithChromePath(path string) Option {
	return func(b *Browser) {
		b.chromePath = path
	}
}

// WithUserAgent sets the User-Agent the browser presents.
func WithUserAgent(ua string) Option {
	return func(b *Browser) {
		b.userAgent = ua
	}
}

// WithTimeout bounds one render, browser start included.
func WithTimeout(d time.Duration) Option {
	return func(b *Browser) {
		b.timeout = d
	}
}

// WithSettle sets how long to wait after load for scripts to build the page.
func WithSettle(d time.Duration) Option {
	return func(b *Browser) {
		b.settle = d
	}
}

// NewBrowser creates a renderer for pages under baseURL.
func NewBrowser(baseURL string, logger arbor.ILogger, opts ...Option) *Browser {
	b := &Browser{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 45 * time.Second,
		settle:  2 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Render opens path with the session's cookies and returns the outer HTML
// of the document. Failures are fetch errors.
func (b *Browser) Render(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error) {
	cookies, err := browserCookies(session, b.baseURL)
	if err != nil {
		return nil, models.NewError(models.KindFetch, "failed to prepare browser cookies", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer browserCancel()

	target := b.baseURL + path
	started := time.Now()

	var html string
	err = chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				if err := network.SetCookie(c.name, c.value).
					WithDomain(c.domain).
					WithPath("/").
					WithSecure(c.secure).
					WithHTTPOnly(true).
					Do(ctx); err != nil {
					return fmt.Errorf("failed to set cookie %s: %w", c.name, err)
				}
			}
			return nil
		}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, models.NewError(models.KindFetch, fmt.Sprintf("failed to render %s", path), err)
	}

	b.logger.Debug().
		Str("path", path).
		Int("cookies", len(cookies)).
		Int("bytes", len(html)).
		Dur("took", time.Since(started)).
		Msg("Rendered page in headless browser")

	return []byte(html), nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}
	if b.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.chromePath))
	}
	return opts
}

type browserCookie struct {
	name   string
	value  string
	domain string
	secure bool
}

// browserCookies scopes the session cookies to the community host.
func browserCookies(session *models.SessionHandle, baseURL string) ([]browserCookie, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	var out []browserCookie
	for _, c := range session.Cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, browserCookie{
			name:   c.Name,
			value:  c.Value,
			domain: u.Hostname(),
			secure: u.Scheme == "https",
		})
	}
	return out, nil
}
