package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/steamanim/internal/httpclient"
	"github.com/ternarybob/steamanim/internal/models"
)

// Community reads and submits profile pages with an established web session.
// It implements interfaces.DocumentFetcher and interfaces.FormSubmitter.
type Community struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	logger    arbor.ILogger
	limiter   *rate.Limiter

	mu      sync.Mutex
	session *models.SessionHandle
	client  *http.Client
}

// CommunityOption configures the Community client.
type CommunityOption func(*Community)

// WithCommunityBaseURL sets a custom base URL.
func WithCommunityBaseURL(baseURL string) CommunityOption {
	return func(c *Community) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCommunityTimeout sets the per-request timeout.
func WithCommunityTimeout(d time.Duration) CommunityOption {
	return func(c *Community) {
		c.timeout = d
	}
}

// WithCommunityUserAgent sets the User-Agent header.
func WithCommunityUserAgent(ua string) CommunityOption {
	return func(c *Community) {
		c.userAgent = ua
	}
}

// WithCommunityRateLimit sets a custom rate limit.
func WithCommunityRateLimit(requestsPerSecond float64) CommunityOption {
	return func(c *Community) {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewCommunity creates a community client.
func NewCommunity(logger arbor.ILogger, opts ...CommunityOption) *Community {
	c := &Community{
		baseURL: DefaultCommunityURL,
		timeout: DefaultTimeout,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch GETs a community page. A bounce to the login page means the session
// has expired; other failures are fetch errors.
func (c *Community) Fetch(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error) {
	client, err := c.clientFor(session)
	if err != nil {
		return nil, models.NewError(models.KindFetch, "failed to prepare session client", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, models.NewError(models.KindFetch, "failed to create request", err)
	}

	body, resp, err := c.do(client, req)
	if err != nil {
		return nil, models.NewError(models.KindFetch, fmt.Sprintf("failed to fetch %s", path), err)
	}
	if expired(resp) {
		return nil, expiredError(resp, fmt.Sprintf("fetch %s", path))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.KindFetch, fmt.Sprintf("failed to fetch %s", path), &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Endpoint:   path,
		})
	}

	return body, nil
}

type profileSaveResponse struct {
	Success int    `json:"success"`
	ErrMsg  string `json:"errmsg"`
}

// SubmitForm posts the profile form. The session id is added as the CSRF
// field along with the markers the edit endpoint expects.
func (c *Community) SubmitForm(ctx context.Context, session *models.SessionHandle, fields models.FieldSnapshot) error {
	client, err := c.clientFor(session)
	if err != nil {
		return models.NewError(models.KindSubmit, "failed to prepare session client", err)
	}

	form := url.Values{}
	for name, value := range fields {
		form.Set(name, value)
	}
	form.Set("sessionID", session.SessionID)
	form.Set("type", "profileSave")
	form.Set("json", "1")

	path := fmt.Sprintf("/profiles/%s/edit/", session.SteamID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return models.NewError(models.KindSubmit, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, resp, err := c.do(client, req)
	if err != nil {
		return models.NewError(models.KindSubmit, "failed to submit profile", err)
	}
	if expired(resp) {
		return expiredError(resp, "profile submit")
	}
	if resp.StatusCode != http.StatusOK {
		return models.NewError(models.KindSubmit, "profile submit rejected", &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Endpoint:   path,
		})
	}

	var result profileSaveResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return models.NewError(models.KindSubmit, "unexpected profile submit response", err)
	}
	if result.Success != 1 {
		msg := result.ErrMsg
		if msg == "" {
			msg = fmt.Sprintf("success=%d", result.Success)
		}
		return &models.Error{Kind: models.KindSubmit, Code: result.Success, Message: msg}
	}

	return nil
}

// clientFor reuses the HTTP client while the session is unchanged.
func (c *Community) clientFor(session *models.SessionHandle) (*http.Client, error) {
	if session == nil {
		return nil, fmt.Errorf("no session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == session && c.client != nil {
		return c.client, nil
	}

	client, err := httpclient.NewHTTPClientFromSession(session, c.baseURL, c.timeout)
	if err != nil {
		return nil, err
	}
	c.session = session
	c.client = client
	return client, nil
}

func (c *Community) do(client *http.Client, req *http.Request) ([]byte, *http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.Path).Msg("Community request")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp, nil
}

// expiredError carries the status code so a bare 403 can be told apart from
// a bounce to the login page.
func expiredError(resp *http.Response, what string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &models.Error{
			Kind:    models.KindSessionExpired,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%s: %s", what, strings.ToLower(http.StatusText(resp.StatusCode))),
		}
	default:
		return models.NewError(models.KindSessionExpired, what+" redirected to login", nil)
	}
}

// expired reports a bounce to the login page or an auth status.
func expired(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusFound, http.StatusSeeOther, http.StatusMovedPermanently, http.StatusTemporaryRedirect:
		return strings.Contains(resp.Header.Get("Location"), "/login")
	}
	return false
}
