// Package steam provides clients for the Steam authentication Web API and
// the community profile pages.
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

const (
	// DefaultAPIURL is the base URL for the Web API.
	DefaultAPIURL = "https://api.steampowered.com"

	// DefaultLoginURL is the base URL for the login host.
	DefaultLoginURL = "https://login.steampowered.com"

	// DefaultCommunityURL is the base URL for community pages.
	DefaultCommunityURL = "https://steamcommunity.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 2

	// DefaultPollTimeout bounds the wait for an auth session to be approved.
	DefaultPollTimeout = 2 * time.Minute

	eventBuffer = 16
)

// Client is a Steam account client. It implements interfaces.AccountClient.
type Client struct {
	apiURL       string
	loginURL     string
	communityURL string
	deviceName   string
	userAgent    string
	pollTimeout  time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
	logger       arbor.ILogger
	limiter      *rate.Limiter

	events chan models.AccountEvent

	mu           sync.Mutex
	flowCancel   context.CancelFunc
	steamID      string
	accountName  string
	accessToken  string
	refreshToken string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithAPIURL sets a custom Web API base URL.
func WithAPIURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLoginURL sets a custom login host base URL.
func WithLoginURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.loginURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCommunityURL sets a custom community base URL.
func WithCommunityURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.communityURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. It must carry a cookie jar for
// WebLogOn to collect session cookies.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithDeviceName sets the name shown in the account's authorized devices.
func WithDeviceName(name string) ClientOption {
	return func(c *Client) {
		c.deviceName = name
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithPollTimeout bounds how long an auth session is polled for approval.
func WithPollTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollTimeout = d
	}
}

// WithPollInterval overrides the poll interval the service suggests.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient creates a new Steam account client.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		apiURL:       DefaultAPIURL,
		loginURL:     DefaultLoginURL,
		communityURL: DefaultCommunityURL,
		deviceName:   "steamanim",
		pollTimeout:  DefaultPollTimeout,
		logger:       arbor.NewLogger(),
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		events:       make(chan models.AccountEvent, eventBuffer),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		httpClient, err := httpclient.NewHTTPClientWithJar(DefaultTimeout)
		if err != nil {
			return nil, err
		}
		c.httpClient = httpClient
	}

	return c, nil
}

// Events returns the notification stream.
func (c *Client) Events() <-chan models.AccountEvent {
	return c.events
}

// Close cancels any login flow still running in the background.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flowCancel != nil {
		c.flowCancel()
		c.flowCancel = nil
	}
	return nil
}

// APIError represents an unexpected HTTP response from Steam.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("steam API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// apiEnvelope is the {"response": {...}} wrapper used by service methods.
type apiEnvelope struct {
	Response json.RawMessage `json:"response"`
}

// callService invokes an IAuthenticationService method and decodes the
// response body into result. Failures are returned as *models.Error.
func (c *Client) callService(ctx context.Context, method, name string, params url.Values, result interface{}) error {
	endpoint := fmt.Sprintf("%s/IAuthenticationService/%s/v1", c.apiURL, name)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return models.NewError(models.KindTransport, "failed to create request", err)
	}

	body, resp, err := c.do(req)
	if err != nil {
		return err
	}

	if eresult := resultFromHeader(resp); eresult != EResultOK {
		c.logger.Debug().
			Str("method", name).
			Int("eresult", int(eresult)).
			Str("message", resp.Header.Get("X-error_message")).
			Msg("Steam API call failed")
		return eresult.Err(name)
	}

	if result == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return models.NewError(models.KindTransport, fmt.Sprintf("failed to decode %s response", name), err)
	}
	if len(envelope.Response) == 0 {
		return models.NewError(models.KindTransport, fmt.Sprintf("%s returned an empty response", name), nil)
	}
	if err := json.Unmarshal(envelope.Response, result); err != nil {
		return models.NewError(models.KindTransport, fmt.Sprintf("failed to decode %s response", name), err)
	}
	return nil
}

// do waits for the limiter, executes the request and reads the body.
func (c *Client) do(req *http.Request) ([]byte, *http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, models.NewError(models.KindTransport, "rate limiter wait failed", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.Path).Msg("Steam request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, models.NewError(models.KindTransport, "failed to execute request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, models.NewError(models.KindTransport, "failed to read response body", err)
	}

	if resp.StatusCode >= 500 {
		return nil, nil, models.NewError(models.KindTransport, "server error", &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Endpoint:   req.URL.Path,
		})
	}

	return body, resp, nil
}

// emit delivers an event unless the flow has been cancelled.
func (c *Client) emit(ctx context.Context, ev models.AccountEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
