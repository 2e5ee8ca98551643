// Package session drives an account from a cold start to an authenticated
// web session: login, second-factor challenge, trust token persistence,
// backoff on transient failure and web session materialization.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/models"
	"github.com/ternarybob/steamanim/internal/services/credentials"
	"github.com/ternarybob/steamanim/internal/totp"
)

const queueSize = 8

// CodeFunc derives a second-factor code from the shared secret.
type CodeFunc func(secret string, t time.Time) (string, error)

// Controller is a single-use login state machine. Transitions run on the
// goroutine calling Run; notifications from the account client and answers
// to challenges are funnelled through one queue.
type Controller struct {
	client   interfaces.AccountClient
	creds    *credentials.Store
	prompter interfaces.Prompter
	logger   arbor.ILogger

	code              CodeFunc
	backoff           BackoffPolicy
	invalidCodeDelay  time.Duration
	transportDelay    time.Duration
	wrongCodeWarnings int
	sleep             func(ctx context.Context, d time.Duration) error
	now               func() time.Time
	observer          func(from, to State)

	queue   chan interface{}
	done    chan struct{}
	ready   chan struct{}
	started atomic.Bool
	current atomic.Int32

	// Owned by the Run goroutine.
	state       State
	attempts    int
	lastFailure models.ErrorKind
	wrongCodes  int
	pending     func(code string)
	steamID     string

	mu      sync.Mutex
	session *models.SessionHandle
}

// Option configures the Controller.
type Option func(*Controller)

// WithPrompter sets the interactive fallback used when no shared secret is
// configured or the service asks for an e-mail code.
func WithPrompter(p interfaces.Prompter) Option {
	return func(c *Controller) {
		c.prompter = p
	}
}

// WithCodeFunc overrides the code generator.
func WithCodeFunc(fn CodeFunc) Option {
	return func(c *Controller) {
		c.code = fn
	}
}

// WithBackoff sets the rate limit backoff policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(c *Controller) {
		c.backoff = p
	}
}

// WithDelays sets the fixed delays after a rejected code and after a
// transport failure.
func WithDelays(invalidCode, transport time.Duration) Option {
	return func(c *Controller) {
		c.invalidCodeDelay = invalidCode
		c.transportDelay = transport
	}
}

// WithWrongCodeWarnings sets how many rejected codes in a row trigger the
// clock skew guidance.
func WithWrongCodeWarnings(n int) Option {
	return func(c *Controller) {
		c.wrongCodeWarnings = n
	}
}

// WithStateObserver registers a callback invoked on every transition.
func WithStateObserver(fn func(from, to State)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithSleep replaces the context-aware sleep (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithClock replaces time.Now (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) {
		c.now = fn
	}
}

// NewController creates a controller in the Idle state.
func NewController(client interfaces.AccountClient, creds *credentials.Store, logger arbor.ILogger, opts ...Option) *Controller {
	c := &Controller{
		client:            client,
		creds:             creds,
		logger:            logger,
		code:              totp.Generator{Format: totp.FormatSteam}.Code,
		backoff:           BackoffPolicy{Unit: 30 * time.Second, Cap: 10 * time.Minute},
		invalidCodeDelay:  totp.Period,
		transportDelay:    15 * time.Second,
		wrongCodeWarnings: 3,
		sleep:             sleepContext,
		now:               time.Now,
		queue:             make(chan interface{}, queueSize),
		done:              make(chan struct{}),
		ready:             make(chan struct{}),
		state:             StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Ready is closed once the session becomes active. It fires at most once.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Session returns the active session, nil before Ready fires.
func (c *Controller) Session() *models.SessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// State returns the current state. Safe to call from any goroutine.
func (c *Controller) State() State {
	return State(c.current.Load())
}

// Attempts returns the number of login attempts started so far.
// Only meaningful after Run returns.
func (c *Controller) Attempts() int {
	return c.attempts
}

// ProvideChallengeResponse answers the pending challenge. Both the automatic
// and the interactive path go through here. Safe to call from any goroutine.
func (c *Controller) ProvideChallengeResponse(code string) {
	c.enqueue(challengeAnswer{code: strings.TrimSpace(code)})
}

// Run signs in and returns the web session. Retryable failures back off and
// start over; terminal failures are returned. A controller can run once.
func (c *Controller) Run(ctx context.Context) (*models.SessionHandle, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, errors.New("login controller already started")
	}
	defer close(c.done)

	events := c.client.Events()
	err := c.start(ctx)

	for {
		if err != nil {
			if fatal := c.recover(ctx, err); fatal != nil {
				return nil, fatal
			}
			err = c.start(ctx)
			continue
		}

		var ev interface{}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case accountEvent, ok := <-events:
			if !ok {
				c.transition(StateFailed)
				return nil, models.NewError(models.KindTransport, "account client closed its event stream", nil)
			}
			ev = accountEvent
		case ev = <-c.queue:
		}

		var handle *models.SessionHandle
		handle, err = c.dispatch(ctx, ev)
		if handle != nil {
			return handle, nil
		}
	}
}

// start enters Authenticating and submits the credentials.
func (c *Controller) start(ctx context.Context) error {
	c.transition(StateAuthenticating)
	c.attempts++
	c.pending = nil

	creds := c.creds.Credentials()
	details := models.LogOnDetails{
		AccountName: creds.AccountName,
		Password:    creds.Password,
		TrustToken:  c.creds.TrustToken(ctx),
		QR:          c.creds.QRLogin(),
	}

	if c.lastFailure != models.KindUnknown {
		c.logger.Debug().Str("previous_failure", c.lastFailure.String()).Msg("Retrying login")
	}

	c.logger.Info().
		Str("account", creds.AccountName).
		Int("attempt", c.attempts).
		Bool("trust_token", len(details.TrustToken) > 0).
		Bool("auto_code", c.creds.HasSharedSecret()).
		Bool("qr", details.QR).
		Msg("Logging on")

	if err := c.client.LogOn(ctx, details); err != nil {
		return err
	}
	return nil
}

// dispatch maps one queued event to its transition function.
func (c *Controller) dispatch(ctx context.Context, ev interface{}) (*models.SessionHandle, error) {
	switch e := ev.(type) {
	case models.ChallengeRequired:
		return nil, c.onChallengeRequired(ctx, e)
	case models.QRChallenge:
		c.onQRChallenge(ctx, e)
		return nil, nil
	case challengeAnswer:
		c.onChallengeAnswer(e)
		return nil, nil
	case promptFailed:
		if c.stale(e.attempt) {
			c.logger.Debug().Int("attempt", e.attempt).Msg("Ignoring prompt failure from an earlier attempt")
			return nil, nil
		}
		return nil, models.NewError(models.KindConfiguration, "no second-factor code supplied", e.err)
	case models.TokenIssued:
		c.onTokenIssued(ctx, e)
		return nil, nil
	case models.LoggedOn:
		return nil, c.onLoggedOn(ctx, e)
	case models.WebSessionReady:
		return c.onWebSession(e), nil
	case models.AccountError:
		if e.Err == nil {
			return nil, models.NewError(models.KindTransport, "account client reported an empty error", nil)
		}
		return nil, e.Err
	default:
		c.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("Ignoring unknown event")
		return nil, nil
	}
}

func (c *Controller) onChallengeRequired(ctx context.Context, e models.ChallengeRequired) error {
	c.transition(StateChallengePending)
	c.pending = e.Respond

	if e.LastCodeWrong {
		c.wrongCodes++
		c.lastFailure = models.KindInvalidChallengeCode
		c.logger.Warn().Int("rejected_codes", c.wrongCodes).Msg("Previous second-factor code was rejected")
		if c.wrongCodeWarnings > 0 && c.wrongCodes >= c.wrongCodeWarnings {
			c.logger.Warn().
				Int("rejected_codes", c.wrongCodes).
				Msg("Codes keep being rejected: check that the system clock is synchronised and the shared secret belongs to this account")
		}
	}

	automatic := c.creds.HasSharedSecret() && e.Domain == ""
	if automatic {
		if e.LastCodeWrong {
			// Let the window roll over before deriving a fresh code.
			if err := c.sleep(ctx, c.invalidCodeDelay); err != nil {
				return err
			}
		}
		code, err := c.code(c.creds.Credentials().SharedSecret, c.now())
		if err != nil {
			return models.NewError(models.KindInvalidSecret, "failed to derive second-factor code", err)
		}
		c.logger.Debug().Str("seconds_left", totp.TimeRemaining(c.now()).String()).Msg("Answering challenge with derived code")
		c.ProvideChallengeResponse(code)
		return nil
	}

	if c.prompter == nil {
		return models.NewError(models.KindConfiguration, "second-factor code required but no shared secret or interactive prompt is available", nil)
	}

	message := "Steam Guard code from the mobile authenticator: "
	if e.Domain != "" {
		message = fmt.Sprintf("Steam Guard code sent to your e-mail at %s: ", e.Domain)
	}
	if e.LastCodeWrong {
		message = "The last code was wrong. " + message
	}

	c.logger.Info().Str("domain", e.Domain).Bool("last_code_wrong", e.LastCodeWrong).Msg("Waiting for second-factor code")
	attempt := c.attempts
	common.SafeGoWithRecovery(c.logger, "session.prompt", func() {
		code, err := c.prompter.Prompt(ctx, message)
		if err != nil {
			c.enqueue(promptFailed{err: err, attempt: attempt})
			return
		}
		c.enqueue(challengeAnswer{code: strings.TrimSpace(code), attempt: attempt})
	}, func(recovered interface{}) {
		c.enqueue(promptFailed{err: fmt.Errorf("prompt panicked: %v", recovered), attempt: attempt})
	})
	return nil
}

func (c *Controller) onChallengeAnswer(a challengeAnswer) {
	if c.stale(a.attempt) {
		c.logger.Warn().
			Int("answer_attempt", a.attempt).
			Int("attempt", c.attempts).
			Msg("Ignoring challenge response from an earlier attempt")
		return
	}
	if c.state != StateChallengePending || c.pending == nil {
		c.logger.Warn().Str("state", c.state.String()).Msg("Ignoring challenge response with no challenge pending")
		return
	}
	respond := c.pending
	c.pending = nil
	respond(a.code)
}

// onQRChallenge waits for the code to be scanned. The account client keeps
// polling on its own, so there is nothing to answer; the URL is logged and
// drawn when the prompter can.
func (c *Controller) onQRChallenge(ctx context.Context, e models.QRChallenge) {
	c.transition(StateChallengePending)
	c.pending = nil

	c.logger.Info().Str("url", e.URL).Msg("Scan the QR code with the Steam mobile app to approve the login")

	presenter, ok := c.prompter.(interfaces.QRPresenter)
	if !ok {
		return
	}
	common.SafeGo(c.logger, "session.qr", func() {
		if err := presenter.ShowQR(ctx, e.URL); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to draw QR code, use the logged URL instead")
		}
	})
}

// stale reports whether an event tagged with attempt predates the current
// login attempt.
func (c *Controller) stale(attempt int) bool {
	return attempt != 0 && attempt != c.attempts
}

func (c *Controller) onTokenIssued(ctx context.Context, e models.TokenIssued) {
	if err := c.creds.SaveTrustToken(ctx, e.Token); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist trust token, the next run will need a full challenge")
		return
	}
	c.logger.Info().Int("bytes", len(e.Token)).Msg("Trust token saved")
}

func (c *Controller) onLoggedOn(ctx context.Context, e models.LoggedOn) error {
	c.steamID = e.SteamID
	c.wrongCodes = 0
	c.pending = nil
	c.transition(StateSessionEstablishing)

	c.logger.Info().Str("steam_id", e.SteamID).Msg("Logged on, requesting web session")
	return c.client.WebLogOn(ctx)
}

func (c *Controller) onWebSession(e models.WebSessionReady) *models.SessionHandle {
	if c.state != StateSessionEstablishing {
		c.logger.Warn().Str("state", c.state.String()).Msg("Ignoring web session outside of session establishment")
		return nil
	}

	handle := &models.SessionHandle{
		SteamID:       c.steamID,
		AccountName:   c.creds.AccountName(),
		SessionID:     e.SessionID,
		Cookies:       e.Cookies,
		AccessToken:   e.AccessToken,
		RefreshToken:  e.RefreshToken,
		EstablishedAt: c.now(),
	}

	c.transition(StateSessionActive)

	c.mu.Lock()
	c.session = handle
	c.mu.Unlock()
	close(c.ready)

	c.logger.Info().Str("steam_id", handle.SteamID).Int("cookies", len(handle.Cookies)).Msg("Web session established")
	return handle
}

// recover classifies a failure. It returns nil after waiting out the
// backoff for retryable kinds and the error itself otherwise.
func (c *Controller) recover(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	kind := models.KindOf(err)
	if kind == models.KindUnknown {
		kind = models.KindTransport
	}

	if !kind.Retryable() {
		c.transition(StateFailed)
		c.logger.Error().Err(err).Str("kind", kind.String()).Msg("Login failed")
		return err
	}

	c.lastFailure = kind
	delay := c.delayFor(kind)
	c.transition(StateBackoff)
	c.logger.Warn().
		Err(err).
		Str("kind", kind.String()).
		Int("attempt", c.attempts).
		Str("delay", delay.String()).
		Msg("Login attempt failed, backing off")

	return c.sleep(ctx, delay)
}

func (c *Controller) delayFor(kind models.ErrorKind) time.Duration {
	switch kind {
	case models.KindRateLimited, models.KindLoginThrottled:
		return c.backoff.Delay(c.attempts)
	case models.KindInvalidChallengeCode:
		return c.invalidCodeDelay
	default:
		return c.transportDelay
	}
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	c.current.Store(int32(to))
	if from != to {
		c.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Login state changed")
	}
	if c.observer != nil {
		c.observer(from, to)
	}
}

func (c *Controller) enqueue(ev interface{}) {
	select {
	case c.queue <- ev:
	case <-c.done:
	}
}
