package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/models"
	"github.com/ternarybob/steamanim/internal/services/steam"
	"github.com/ternarybob/steamanim/internal/services/steam/steamtest"
)

const testSecret = "cnOgv/KdpLoP6Nbh0GMkXkPXALQ="

var testFrames = []string{"f1", "f2", "f3"}

type stubPrompter struct {
	code  string
	calls int
}

func (p *stubPrompter) Prompt(ctx context.Context, message string) (string, error) {
	p.calls++
	return p.code, nil
}

func testConfig(t *testing.T, srv *steamtest.Server, secret string) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Steam.AccountName = srv.AccountName
	cfg.Steam.Password = srv.Password
	cfg.Steam.SharedSecret = secret
	cfg.Endpoints = common.EndpointsConfig{API: srv.URL, Login: srv.URL, Community: srv.URL}
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "sentry.bin")
	cfg.HTTP.RateLimit = 100
	cfg.Login.BackoffUnit = "10ms"
	cfg.Login.BackoffCap = "50ms"
	cfg.Login.InvalidCodeDelay = "10ms"
	cfg.Login.TransportDelay = "10ms"
	cfg.Login.PollTimeout = "2s"
	cfg.Animation.Interval = "1s"
	cfg.Animation.Frames = testFrames
	return cfg
}

func newTestApp(t *testing.T, cfg *common.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithAnimationPeriod(150 * time.Millisecond),
		WithClientOptions(steam.WithPollInterval(10 * time.Millisecond)),
	}, opts...)

	a, err := New(cfg, arbor.NewLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// runUntil runs the app until the server has seen n submissions.
func runUntil(t *testing.T, a *App, srv *steamtest.Server, n int) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for len(srv.Submitted()) < n {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatalf("expected %d submissions, got %d", n, len(srv.Submitted()))
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
		return nil
	}
}

func TestApp_RunAnimatesProfile(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv, testSecret)
	a := newTestApp(t, cfg)

	require.NoError(t, runUntil(t, a, srv, 4))

	assert.Equal(t, []string{"f1", "f2", "f3", "f1"}, srv.Summaries()[:4])
	for _, sub := range srv.Submitted() {
		assert.Equal(t, "Alice", sub.Get("personaName"), "untouched fields are resubmitted")
		assert.Equal(t, "NZ", sub.Get("country"))
	}

	assert.Len(t, srv.Codes(), 1, "one generated code answers the challenge")

	token, err := os.ReadFile(cfg.Storage.File.Path)
	require.NoError(t, err)
	assert.Equal(t, steamtest.DefaultGuardData, string(token))
}

func TestApp_TrustTokenSkipsChallenge(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	require.NoError(t, os.WriteFile(cfg.Storage.File.Path, []byte(steamtest.DefaultGuardData), 0600))

	prompter := &stubPrompter{code: "never"}
	a := newTestApp(t, cfg, WithPrompter(prompter))

	require.NoError(t, runUntil(t, a, srv, 1))
	assert.Empty(t, srv.Codes())
	assert.Zero(t, prompter.calls)
	assert.Equal(t, steamtest.DefaultGuardData, srv.Guard())
}

func TestApp_ExpiredSessionIsReacquired(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()
	srv.ExpireAfter = 2

	cfg := testConfig(t, srv, testSecret)
	a := newTestApp(t, cfg)

	require.NoError(t, runUntil(t, a, srv, 3))

	assert.GreaterOrEqual(t, srv.Begins(), 2, "a new login follows the rejected submit")
	assert.Len(t, srv.Codes(), 1, "the second login reuses the trust token")
	assert.Equal(t, "Alice", srv.Submitted()[2].Get("personaName"), "the original snapshot is reused")
}

func TestApp_ForbiddenSubmitDoesNotStorm(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()
	srv.ForbidSubmits = true

	var mu sync.Mutex
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return wait(ctx, d)
	}

	cfg := testConfig(t, srv, testSecret)
	a := newTestApp(t, cfg, WithAnimationPeriod(30*time.Second), WithSleep(sleep))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, 2, srv.Begins(), "one login to rule out expiry, then the session is kept")
	assert.Equal(t, 2, srv.Rejections())
	assert.Empty(t, srv.Submitted())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, delays)
}

func TestApp_ReacquireBacksOff(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()
	srv.RejectSessions = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 6 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	cfg := testConfig(t, srv, testSecret)
	a := newTestApp(t, cfg, WithSleep(sleep))

	require.NoError(t, a.Run(ctx))

	ms := time.Millisecond
	assert.Equal(t, []time.Duration{10 * ms, 20 * ms, 30 * ms, 40 * ms, 50 * ms, 50 * ms}, delays,
		"relogin delay grows by the backoff unit up to the cap")
	assert.Equal(t, 6, srv.Begins())
	assert.Empty(t, srv.Submitted())
}

func TestApp_QRLogin(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	cfg.Steam.Password = ""
	cfg.Steam.LoginMethod = "qr"
	prompter := &stubPrompter{}
	a := newTestApp(t, cfg, WithPrompter(prompter))

	require.NoError(t, runUntil(t, a, srv, 1))
	assert.Equal(t, 1, srv.QRBegins())
	assert.Zero(t, srv.Begins(), "no password is sent")
	assert.Empty(t, srv.Codes())
	assert.Zero(t, prompter.calls)

	token, err := os.ReadFile(cfg.Storage.File.Path)
	require.NoError(t, err)
	assert.Equal(t, steamtest.DefaultGuardData, string(token))
}

func TestApp_CaptureTokenPrompts(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	prompter := &stubPrompter{code: "ABCDE"}
	a := newTestApp(t, cfg, WithPrompter(prompter))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.CaptureToken(ctx))
	assert.Equal(t, 1, prompter.calls)
	assert.Equal(t, []string{"ABCDE"}, srv.Codes())
	assert.Empty(t, srv.Submitted(), "capture does not touch the profile")

	token, err := os.ReadFile(cfg.Storage.File.Path)
	require.NoError(t, err)
	assert.Equal(t, steamtest.DefaultGuardData, string(token))
}

func TestApp_TerminalAuthStops(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv, testSecret)
	cfg.Steam.Password = "wrong"
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, models.KindTerminalAuth, models.KindOf(err))
	assert.Empty(t, srv.Submitted())
}

func TestApp_CancelledRunReturnsNil(t *testing.T) {
	srv := steamtest.NewServer()
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv, testSecret))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := common.NewDefaultConfig()
	_, err := New(cfg, arbor.NewLogger())
	require.Error(t, err)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	cfg.Steam.AccountName = "alice"
	cfg.Steam.Password = "hunter2"
	cfg.Steam.SharedSecret = "!!not a secret!!"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "sentry.bin")
	_, err = New(cfg, arbor.NewLogger())
	require.Error(t, err)
	assert.Equal(t, models.KindInvalidSecret, models.KindOf(err))
}
