package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/models"
	"github.com/ternarybob/steamanim/internal/services/animation"
	"github.com/ternarybob/steamanim/internal/services/credentials"
	"github.com/ternarybob/steamanim/internal/services/profile"
	"github.com/ternarybob/steamanim/internal/services/prompt"
	"github.com/ternarybob/steamanim/internal/services/render"
	"github.com/ternarybob/steamanim/internal/services/session"
	"github.com/ternarybob/steamanim/internal/services/steam"
	"github.com/ternarybob/steamanim/internal/storage"
	"github.com/ternarybob/steamanim/internal/totp"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Trust token persistence
	Tokens      interfaces.TrustTokenStore
	Credentials *credentials.Store

	// Steam collaborators
	Client    *steam.Client
	Community *steam.Community

	// Animation
	Reader *profile.Reader
	Frames animation.FrameSource

	Prompter interfaces.Prompter

	period        time.Duration
	retryDelay    time.Duration
	relogin       session.BackoffPolicy
	sleep         func(ctx context.Context, d time.Duration) error
	clientOpts    []steam.ClientOption
	communityOpts []steam.CommunityOption
	sessionOpts   []session.Option
	closeStore    func() error
}

// Option customises the wiring, mostly for tests.
type Option func(*App)

// WithPrompter replaces the terminal prompter.
func WithPrompter(p interfaces.Prompter) Option {
	return func(a *App) {
		a.Prompter = p
	}
}

// WithAnimationPeriod overrides animation.interval without validation.
func WithAnimationPeriod(d time.Duration) Option {
	return func(a *App) {
		a.period = d
	}
}

// WithSleep replaces the wait between re-acquisitions and snapshot retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) {
		a.sleep = fn
	}
}

// WithClientOptions appends options to the account client.
func WithClientOptions(opts ...steam.ClientOption) Option {
	return func(a *App) {
		a.clientOpts = append(a.clientOpts, opts...)
	}
}

// WithCommunityOptions appends options to the community client.
func WithCommunityOptions(opts ...steam.CommunityOption) Option {
	return func(a *App) {
		a.communityOpts = append(a.communityOpts, opts...)
	}
}

// WithSessionOptions appends options to every login controller.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) {
		a.sessionOpts = append(a.sessionOpts, opts...)
	}
}

// New initializes the application with all dependencies. A configuration
// problem is returned as a models.KindConfiguration error.
func New(config *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	unit, maxDelay, _, transportDelay, _ := config.Login.Durations()

	app := &App{
		Config:     config,
		Logger:     logger,
		period:     config.AnimationInterval(),
		retryDelay: transportDelay,
		relogin:    session.BackoffPolicy{Unit: unit, Cap: maxDelay},
		sleep:      wait,
	}

	for _, opt := range opts {
		opt(app)
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().
		Str("account", app.Credentials.AccountName()).
		Bool("shared_secret", app.Credentials.HasSharedSecret()).
		Str("storage", config.Storage.Type).
		Str("mode", config.Animation.Mode).
		Dur("interval", app.period).
		Msg("Application initialized")

	return app, nil
}

// initStorage opens the trust token store and loads the credentials.
func (a *App) initStorage() error {
	tokens, closeStore, err := storage.NewTrustTokenStore(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize trust token store: %w", err)
	}
	a.Tokens = tokens
	a.closeStore = closeStore

	creds, err := credentials.Load(a.Config.Steam, tokens, a.Logger)
	if err != nil {
		_ = closeStore()
		return err
	}
	a.Credentials = creds

	return nil
}

// initServices builds the Steam clients, the reader and the frame source.
func (a *App) initServices() error {
	cfg := a.Config
	_, _, _, _, pollTimeout := cfg.Login.Durations()

	clientOpts := []steam.ClientOption{
		steam.WithLogger(a.Logger),
		steam.WithAPIURL(cfg.Endpoints.API),
		steam.WithLoginURL(cfg.Endpoints.Login),
		steam.WithCommunityURL(cfg.Endpoints.Community),
		steam.WithRateLimit(cfg.HTTP.RateLimit),
		steam.WithUserAgent(cfg.HTTP.UserAgent),
		steam.WithDeviceName(cfg.Steam.DeviceName),
		steam.WithPollTimeout(pollTimeout),
	}
	client, err := steam.NewClient(append(clientOpts, a.clientOpts...)...)
	if err != nil {
		return fmt.Errorf("failed to create account client: %w", err)
	}
	a.Client = client

	communityOpts := []steam.CommunityOption{
		steam.WithCommunityBaseURL(cfg.Endpoints.Community),
		steam.WithCommunityTimeout(cfg.HTTPTimeout()),
		steam.WithCommunityUserAgent(cfg.HTTP.UserAgent),
		steam.WithCommunityRateLimit(cfg.HTTP.RateLimit),
	}
	a.Community = steam.NewCommunity(a.Logger, append(communityOpts, a.communityOpts...)...)

	var readerOpts []profile.ReaderOption
	if cfg.Render.Enabled {
		timeout, settle := cfg.RenderDurations()
		browser := render.NewBrowser(cfg.Endpoints.Community, a.Logger,
			render.WithChromePath(cfg.Render.ChromePath),
			render.WithUserAgent(cfg.HTTP.UserAgent),
			render.WithTimeout(timeout),
			render.WithSettle(settle),
		)
		readerOpts = append(readerOpts, profile.WithRenderer(browser))
	}
	a.Reader = profile.NewReader(a.Community, a.Logger, readerOpts...)

	frames, err := animation.NewFrameSource(cfg.Animation)
	if err != nil {
		return models.NewError(models.KindConfiguration, "invalid animation settings", err)
	}
	a.Frames = frames

	if a.Prompter == nil {
		a.Prompter = prompt.NewStdin()
	}

	return nil
}

// controllerOptions maps the login settings onto controller options.
func (a *App) controllerOptions() ([]session.Option, error) {
	format, err := totp.ParseFormat(a.Config.Steam.CodeFormat)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "invalid steam.code_format", err)
	}

	unit, maxDelay, invalidCode, transport, _ := a.Config.Login.Durations()
	opts := []session.Option{
		session.WithPrompter(a.Prompter),
		session.WithCodeFunc(totp.Generator{Format: format}.Code),
		session.WithBackoff(session.BackoffPolicy{Unit: unit, Cap: maxDelay}),
		session.WithDelays(invalidCode, transport),
	}
	if a.Config.Login.WrongCodeWarnings > 0 {
		opts = append(opts, session.WithWrongCodeWarnings(a.Config.Login.WrongCodeWarnings))
	}
	return append(opts, a.sessionOpts...), nil
}

// Acquire runs a fresh login controller to completion. Each acquisition gets
// its own correlation id so the log lines of one login can be followed.
func (a *App) Acquire(ctx context.Context) (*models.SessionHandle, error) {
	opts, err := a.controllerOptions()
	if err != nil {
		return nil, err
	}

	correlationID := uuid.New().String()
	logger := a.Logger.WithCorrelationId(correlationID)

	logger.Info().
		Str("account", a.Credentials.AccountName()).
		Msg("Acquiring web session")

	controller := session.NewController(a.Client, a.Credentials, logger, opts...)
	handle, err := controller.Run(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("steam_id", handle.SteamID).
		Int("attempts", controller.Attempts()).
		Msg("Web session acquired")

	return handle, nil
}

// Run signs in, captures the profile once and animates it until ctx is
// cancelled. An expired web session is re-acquired and the animation resumes
// with the snapshot taken at the start. Consecutive re-acquisitions back off
// on the login backoff policy; a session that got a submit through resets
// the count. Cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	var base models.FieldSnapshot
	relogins := 0
	trustForbidden := true

	for {
		if relogins > 0 {
			delay := a.relogin.Delay(relogins)
			a.Logger.Warn().
				Int("relogins", relogins).
				Str("delay", delay.String()).
				Msg("Signing in again after backoff")
			if err := a.sleep(ctx, delay); err != nil {
				return a.finish(ctx, err)
			}
		}

		handle, err := a.Acquire(ctx)
		if err != nil {
			return a.finish(ctx, err)
		}

		if base == nil {
			base, err = a.readBase(ctx, handle)
			if err != nil {
				if models.IsKind(err, models.KindSessionExpired) && ctx.Err() == nil {
					a.Logger.Warn().Err(err).Msg("Web session rejected while reading profile")
					relogins++
					continue
				}
				return a.finish(ctx, err)
			}
		}

		scheduler := animation.NewScheduler(a.Community, a.Frames, a.Config.Animation.Field, a.period, a.Logger,
			animation.WithForbiddenExpiry(trustForbidden))
		err = scheduler.Run(ctx, handle, base)
		if errors.Is(err, models.ErrSessionExpired) {
			if scheduler.Successes() > 0 {
				relogins = 0
			}
			relogins++
			// A 403 that survives the next login is a refusal, not an expiry
			trustForbidden = !models.IsForbidden(scheduler.ExpiryCause())

			a.Logger.Warn().
				Err(scheduler.ExpiryCause()).
				Int64("ticks", scheduler.Ticks()).
				Int64("accepted", scheduler.Successes()).
				Msg("Web session no longer accepted")
			continue
		}
		return a.finish(ctx, err)
	}
}

// CaptureToken signs in once so the trust token is written, then returns.
func (a *App) CaptureToken(ctx context.Context) error {
	if _, err := a.Acquire(ctx); err != nil {
		return a.finish(ctx, err)
	}

	a.Logger.Info().
		Str("account", a.Credentials.AccountName()).
		Msg("Trust token captured, later logins will skip the challenge")
	return nil
}

// readBase reads the profile form. An empty form or a fetch failure is
// retried a bounded number of times: submitting an empty base would wipe
// every other profile field.
func (a *App) readBase(ctx context.Context, handle *models.SessionHandle) (models.FieldSnapshot, error) {
	attempts := a.Config.Animation.SnapshotAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		snapshot, err := a.Reader.Read(ctx, handle)
		switch {
		case err == nil && len(snapshot) > 0:
			a.Logger.Info().
				Strs("fields", snapshot.Names()).
				Msg("Profile snapshot captured")
			return snapshot, nil
		case err == nil:
			lastErr = models.NewError(models.KindFetch, "profile edit form has no fields", nil)
		case models.IsKind(err, models.KindFetch):
			lastErr = err
		default:
			return nil, err
		}

		a.Logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Profile snapshot unusable")

		if attempt < attempts {
			if err := a.sleep(ctx, a.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

// finish turns cancellation into a clean exit.
func (a *App) finish(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		a.Logger.Info().Msg("Stopped")
		return nil
	}
	return err
}

// Close releases the account client and the trust token store.
func (a *App) Close() error {
	var errs []error
	if a.Client != nil {
		if err := a.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close account client: %w", err))
		}
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close trust token store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
