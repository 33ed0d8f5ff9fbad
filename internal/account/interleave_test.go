package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/session"
)

// fetchStep is one scripted answer of stepFetcher. entered is closed when the
// call starts and gate, when set, holds the answer back.
type fetchStep struct {
	profile *profile.Profile
	err     error
	entered chan struct{}
	gate    chan struct{}
}

// stepFetcher answers the i-th call with steps[i]; calls past the end repeat
// the last step without signalling entered.
type stepFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
}

func (f *stepFetcher) FetchProfile(ctx context.Context, ownerID string) (*profile.Profile, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	first := i < len(f.steps)
	if !first {
		i = len(f.steps) - 1
	}
	st := f.steps[i]
	f.mu.Unlock()

	if first && st.entered != nil {
		close(st.entered)
	}
	if st.gate != nil {
		<-st.gate
	}
	return st.profile.Clone(), st.err
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch to start")
	}
}

func TestHandleEvent_NewerAppearedWinsOverSlowerOlder(t *testing.T) {
	older := &profile.Profile{ID: "u-1", FirstName: "Older"}
	newer := &profile.Profile{ID: "u-1", FirstName: "Newer"}
	entered, gate := make(chan struct{}), make(chan struct{})
	fetcher := &stepFetcher{steps: []fetchStep{
		{profile: older, entered: entered, gate: gate},
		{profile: newer},
	}}
	h := newHarness(t, harnessConfig{fetcher: fetcher})
	h.checker.id = &session.Identity{OwnerID: "u-1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.HandleEvent(context.Background(), Event{
			Kind:    SessionAppeared,
			Session: &session.Session{Token: "tok-a", OwnerID: "u-1"},
		})
	}()
	waitFor(t, entered)

	require.NoError(t, h.m.HandleEvent(context.Background(), Event{
		Kind:    SessionAppeared,
		Session: &session.Session{Token: "tok-b", OwnerID: "u-1"},
	}))
	require.Equal(t, StateReady, h.m.Snapshot().State)

	close(gate)
	<-done

	snap := h.m.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, "tok-b", snap.Session.Token)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "Newer", snap.Profile.FirstName)
	assert.Equal(t, "Newer", h.cache.Read("u-1").FirstName)
}

func TestAttachOrganization_DuringRefreshSettles(t *testing.T) {
	entered, gate := make(chan struct{}), make(chan struct{})
	fetcher := &stepFetcher{steps: []fetchStep{
		{profile: testProfile("u-1"), entered: entered, gate: gate},
	}}
	h := newHarness(t, harnessConfig{fetcher: fetcher})
	h.signedIn(t, "u-1")
	h.cache.Write(*testProfile("u-1"), "u-1")
	h.online.Store(false)
	require.Equal(t, StateDegraded, h.m.Bootstrap(context.Background()).State)

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.RefreshProfile(context.Background()) }()
	waitFor(t, entered)
	require.Equal(t, StateResolving, h.m.Snapshot().State)

	require.NoError(t, h.m.AttachOrganization("org-1", "admin"))
	snap := h.m.Snapshot()
	assert.True(t, snap.State.Settled(), "state %s", snap.State)
	assert.Equal(t, StateDegraded, snap.State)

	close(gate)
	err := <-errCh
	assert.ErrorIs(t, err, ErrProfileUnverified, "a superseded refresh does not report success")

	snap = h.m.Snapshot()
	assert.Equal(t, StateDegraded, snap.State)
	require.NotNil(t, snap.Profile)
	require.True(t, snap.Profile.HasOrganization())
	assert.Equal(t, "org-1", *snap.Profile.OrgID)
	assert.Equal(t, "org-1", *h.cache.Read("u-1").OrgID)
}

func TestAttachOrganization_DuringRefreshFromReadyStaysReady(t *testing.T) {
	entered, gate := make(chan struct{}), make(chan struct{})
	fetcher := &stepFetcher{steps: []fetchStep{
		{profile: testProfile("u-1")},
		{profile: testProfile("u-1"), entered: entered, gate: gate},
	}}
	h := newHarness(t, harnessConfig{fetcher: fetcher})
	h.signedIn(t, "u-1")
	require.Equal(t, StateReady, h.m.Bootstrap(context.Background()).State)

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.RefreshProfile(context.Background()) }()
	waitFor(t, entered)

	require.NoError(t, h.m.AttachOrganization("org-1", "admin"))
	assert.Equal(t, StateReady, h.m.Snapshot().State)

	close(gate)
	assert.Error(t, <-errCh)

	snap := h.m.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.Verified)
	assert.Equal(t, "admin", snap.Profile.Role)
	assert.Equal(t, "org-1", *snap.Profile.OrgID)
}

func TestCreateProfile_DuringResolutionWins(t *testing.T) {
	entered, gate := make(chan struct{}), make(chan struct{})
	fetcher := &stepFetcher{steps: []fetchStep{
		{err: profile.ErrNoRows, entered: entered, gate: gate},
	}}
	h := newHarness(t, harnessConfig{fetcher: fetcher})
	h.checker.id = &session.Identity{OwnerID: "u-1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.HandleEvent(context.Background(), Event{
			Kind:    SessionAppeared,
			Session: &session.Session{Token: "tok", OwnerID: "u-1"},
		})
	}()
	waitFor(t, entered)
	require.Equal(t, StateResolving, h.m.Snapshot().State)

	created, err := h.m.CreateProfile(context.Background(), profile.CreateInput{FirstName: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, h.m.Snapshot().State)

	close(gate)
	<-done

	snap := h.m.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, created.FirstName, snap.Profile.FirstName)
	assert.NoError(t, snap.Err)
}

func TestVerifyChallenge_FailureDuringBootstrapSettles(t *testing.T) {
	entered, gate := make(chan struct{}), make(chan struct{})
	fetcher := &stepFetcher{steps: []fetchStep{
		{profile: testProfile("u-1"), entered: entered, gate: gate},
	}}
	h := newHarness(t, harnessConfig{fetcher: fetcher, bootstrapTimeout: 200 * time.Millisecond})
	h.signedIn(t, "u-1")
	h.cache.Write(*testProfile("u-1"), "u-1")

	snapCh := make(chan Snapshot, 1)
	go func() { snapCh <- h.m.Bootstrap(context.Background()) }()
	waitFor(t, entered)
	require.Equal(t, StateResolving, h.m.Snapshot().State)

	h.auth.verifyErr = errors.New("invalid code")
	_, err := h.m.VerifyChallenge(context.Background(), "ada@example.com", "000000")
	require.ErrorIs(t, err, ErrVerification)

	snap := h.m.Snapshot()
	assert.Equal(t, StateDegraded, snap.State)
	assert.NotNil(t, snap.Session)
	require.NotNil(t, snap.Profile)
	assert.False(t, snap.Verified)

	close(gate)
	boot := <-snapCh
	assert.True(t, boot.State.Settled(), "bootstrap returned %s", boot.State)

	assert.Never(t, func() bool {
		return h.m.Snapshot().State != StateDegraded
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestVerifyChallenge_FailureWithoutSessionSettles(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.m.Bootstrap(context.Background())
	require.Equal(t, StateUnauthenticated, h.m.Snapshot().State)

	h.auth.verifyErr = errors.New("invalid code")
	_, err := h.m.VerifyChallenge(context.Background(), "ada@example.com", "000000")
	require.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, StateUnauthenticated, h.m.Snapshot().State)
}
