package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/steamanim/internal/models"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewHTTPClientWithJar creates an HTTP client with an empty cookie jar.
// Used by the login flow, which collects cookies across several hosts.
func NewHTTPClientWithJar(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}, nil
}

// NewHTTPClientFromSession creates an HTTP client whose jar carries the
// session cookies. Cookies without a domain are scoped to baseURL.
// Redirects are not followed so callers can detect a bounce to the login page.
func NewHTTPClientFromSession(session *models.SessionHandle, baseURL string, timeout time.Duration) (*http.Client, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	client, err := NewHTTPClientWithJar(timeout)
	if err != nil {
		return nil, err
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// Group cookies by domain so the jar accepts each under its declared host
	cookiesByDomain := make(map[string][]*http.Cookie)
	for _, c := range session.Cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = base.Hostname()
		}

		cookiesByDomain[domain] = append(cookiesByDomain[domain], &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			Expires:  c.Expires,
			Secure:   c.Secure && base.Scheme == "https",
			HttpOnly: c.HttpOnly,
		})
	}

	for domain, domainCookies := range cookiesByDomain {
		domainURL := &url.URL{Scheme: base.Scheme, Host: domain, Path: "/"}
		if domain == base.Hostname() {
			domainURL.Host = base.Host
		}
		client.Jar.SetCookies(domainURL, domainCookies)
	}

	// The community expects the sessionid cookie to mirror the form field
	if session.SessionID != "" && session.Cookie("sessionid") == nil {
		client.Jar.SetCookies(base, []*http.Cookie{{Name: "sessionid", Value: session.SessionID, Path: "/"}})
	}

	return client, nil
}
