package animation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"

	"github.com/ternarybob/steamanim/internal/models"
)

type submission struct {
	fields  models.FieldSnapshot
	started time.Time
	ended   time.Time
}

// recordingSubmitter records every submission. errs is consumed one per call.
type recordingSubmitter struct {
	mu       sync.Mutex
	delay    time.Duration
	errs     []error
	subs     []submission
	inFlight int
	maxIn    int
}

func (r *recordingSubmitter) SubmitForm(ctx context.Context, session *models.SessionHandle, fields models.FieldSnapshot) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxIn {
		r.maxIn = r.inFlight
	}
	var err error
	if len(r.errs) > 0 {
		err = r.errs[0]
		r.errs = r.errs[1:]
	}
	r.mu.Unlock()

	started := time.Now()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	r.inFlight--
	r.subs = append(r.subs, submission{fields: fields, started: started, ended: time.Now()})
	r.mu.Unlock()
	return err
}

func (r *recordingSubmitter) submissions() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

func (r *recordingSubmitter) waitFor(t *testing.T, n int, timeout time.Duration) []submission {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if subs := r.submissions(); len(subs) >= n {
			return subs
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d submissions, got %d", n, len(r.submissions()))
	return nil
}

const testPeriod = 200 * time.Millisecond

var (
	testFrames  = []string{"(•_•)", "( •_•)>⌐■-■", "(⌐■_■)"}
	testSession = &models.SessionHandle{SteamID: "76561197960287930", SessionID: "abc"}
	testBase    = models.FieldSnapshot{"summary": "old", "location": "X", "personaName": "Alice"}
)

func newTestScheduler(t *testing.T, sub *recordingSubmitter, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	rr, err := NewRoundRobin(testFrames)
	require.NoError(t, err)
	return NewScheduler(sub, rr, "summary", testPeriod, arbor.NewLogger(), opts...)
}

func TestScheduler_ImmediateTickThenCycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub)

	start := time.Now()
	require.NoError(t, s.Start(context.Background(), testSession, testBase))

	first := sub.waitFor(t, 1, time.Second)
	assert.Less(t, first[0].started.Sub(start), testPeriod/2, "first tick fires at start")

	subs := sub.waitFor(t, 4, 3*time.Second)
	s.Stop()

	for i := 1; i < 4; i++ {
		gap := subs[i].started.Sub(subs[0].started)
		assert.GreaterOrEqual(t, gap, time.Duration(i)*testPeriod-20*time.Millisecond, "tick %d fires one period after the last", i)
	}

	var summaries []string
	for _, sb := range subs[:4] {
		summaries = append(summaries, sb.fields["summary"])
	}
	assert.Equal(t, []string{testFrames[0], testFrames[1], testFrames[2], testFrames[0]}, summaries)

	for _, sb := range subs {
		assert.Equal(t, "X", sb.fields["location"], "other fields are preserved")
		assert.Equal(t, "Alice", sb.fields["personaName"])
	}
	assert.Equal(t, "old", testBase["summary"], "base snapshot is not mutated")
}

func TestScheduler_FailureDoesNotStopSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &recordingSubmitter{errs: []error{models.NewError(models.KindSubmit, "rejected", nil)}}
	s := newTestScheduler(t, sub)

	require.NoError(t, s.Start(context.Background(), testSession, testBase))
	subs := sub.waitFor(t, 2, 2*time.Second)
	s.Stop()

	assert.Equal(t, testFrames[1], subs[1].fields["summary"])
	assert.Equal(t, int64(1), s.Failures())
	assert.GreaterOrEqual(t, s.Ticks(), int64(2))
}

func TestScheduler_TicksNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &recordingSubmitter{delay: testPeriod * 3 / 2}
	s := newTestScheduler(t, sub)

	require.NoError(t, s.Start(context.Background(), testSession, testBase))
	sub.waitFor(t, 3, 3*time.Second)
	s.Stop()

	subs := sub.submissions()
	sub.mu.Lock()
	assert.Equal(t, 1, sub.maxIn)
	sub.mu.Unlock()

	for i := 1; i < len(subs); i++ {
		assert.False(t, subs[i].started.Before(subs[i-1].ended), "tick %d started before tick %d finished", i, i-1)
	}
}

func TestScheduler_RunEndsOnSessionExpiry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &recordingSubmitter{errs: []error{nil, models.NewError(models.KindSessionExpired, "redirected to login", nil)}}
	s := newTestScheduler(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := s.Run(ctx, testSession, testBase)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	assert.Len(t, sub.submissions(), 2)
}

func forbidden() error {
	return &models.Error{Kind: models.KindSessionExpired, Code: 403, Message: "profile submit: forbidden"}
}

func TestScheduler_ForbiddenEndsRun(t *testing.T) {
	sub := &recordingSubmitter{errs: []error{forbidden()}}
	s := newTestScheduler(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := s.Run(ctx, testSession, testBase)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	assert.Len(t, sub.submissions(), 1)
	assert.True(t, models.IsForbidden(s.ExpiryCause()))
}

func TestScheduler_ForbiddenAfterReloginKeepsTicking(t *testing.T) {
	sub := &recordingSubmitter{errs: []error{forbidden(), forbidden(), nil, forbidden()}}
	s := newTestScheduler(t, sub, WithForbiddenExpiry(false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx, testSession, testBase)
	assert.ErrorIs(t, err, models.ErrSessionExpired, "a 403 after a successful submit is trusted again")
	assert.Len(t, sub.submissions(), 4)
	assert.Equal(t, int64(1), s.Successes())
	assert.Equal(t, int64(3), s.Failures())
	assert.True(t, models.IsForbidden(s.ExpiryCause()))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, testSession, testBase)
	}()

	sub.waitFor(t, 1, time.Second)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub)

	require.NoError(t, s.Start(context.Background(), testSession, testBase))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background(), testSession, testBase))
	assert.Error(t, NewScheduler(sub, nil, "", time.Second, arbor.NewLogger()).Start(context.Background(), nil, testBase))
	assert.Error(t, NewScheduler(sub, nil, "", 0, arbor.NewLogger()).Start(context.Background(), testSession, testBase))
}
