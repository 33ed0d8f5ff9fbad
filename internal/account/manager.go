// Package account owns the signed-in identity and its profile. It reconciles
// the locally persisted view with the remote authority and keeps the caller
// usable when the remote is slow, unreachable or briefly inconsistent.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/retry"
	"github.com/alecgard/roster/internal/session"
)

// DefaultBootstrapTimeout bounds how long Bootstrap may stay unsettled.
const DefaultBootstrapTimeout = 10 * time.Second

const noticeSessionExpired = "session expired"

var errSuperseded = errors.New("account: superseded by a newer flow")

// Verification is the remote answer to a completed challenge. Profile is nil
// when the identity has no profile row.
type Verification struct {
	Session       session.Session  `json:"session"`
	IsNewIdentity bool             `json:"is_new_identity"`
	Profile       *profile.Profile `json:"profile"`
}

// VerifyResult is returned by VerifyChallenge.
type VerifyResult struct {
	IsNewIdentity bool
	Profile       *profile.Profile
}

// Authenticator runs the one-time-code flow against the identity provider.
type Authenticator interface {
	SendChallenge(ctx context.Context, handle string) error
	VerifyChallenge(ctx context.Context, handle, code string) (*Verification, error)
	SignOut(ctx context.Context, token string) error
}

// ProfileWriter creates the signed-in identity's profile remotely.
type ProfileWriter interface {
	CreateProfile(ctx context.Context, in profile.CreateInput) error
}

// Observer receives state machine telemetry.
type Observer interface {
	ObserveTransition(from, to State)
	ObserveValidation(result string)
	ObserveResolution(outcome string)
	ObserveRetry()
}

type noopObserver struct{}

func (noopObserver) ObserveTransition(State, State) {}
func (noopObserver) ObserveValidation(string) {}
func (noopObserver) ObserveResolution(string) {}
func (noopObserver) ObserveRetry() {}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Validator     *session.Validator
	Resolver      *profile.Resolver
	Cache         *profile.Cache
	Credentials   *Credentials
	Authenticator Authenticator
	Writer        ProfileWriter
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy sets the policy used for event-driven profile resolution.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithBootstrapTimeout overrides DefaultBootstrapTimeout.
func WithBootstrapTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.bootstrapTimeout = d
		}
	}
}

// WithObserver routes telemetry to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager is the auth/profile state machine. One Manager is built at process
// start and shared by every consumer.
//
// Every state change happens under mu. Remote calls never do. Flows that run
// outside the lock carry the sequence number they started with and only
// commit if it is still current, so a slow, superseded flow cannot overwrite
// newer state. While a verification holds the exclusive-flow token, identity
// events are dropped.
type Manager struct {
	deps             Deps
	policy           retry.Policy
	bootstrapTimeout time.Duration
	observer         Observer
	logger           *slog.Logger

	mu        sync.Mutex
	state     State
	session   *session.Session
	profile   *profile.Profile
	verified  bool
	err       error
	notice    string
	seq       uint64
	exclusive uint64
	nextToken uint64
	listeners []func(Snapshot)
}

// NewManager creates a Manager in StateBootstrapping.
func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		deps:             deps,
		policy:           retry.DefaultPolicy(),
		bootstrapTimeout: DefaultBootstrapTimeout,
		observer:         noopObserver{},
		logger:           slog.Default(),
		state:            StateBootstrapping,
	}
	for _, opt := range opts {
		opt(m)
	}

	onRetry := m.policy.OnRetry
	m.policy.OnRetry = func(attempt int, delay time.Duration) {
		m.observer.ObserveRetry()
		m.logger.Debug("retrying profile resolution", "attempt", attempt, "delay", delay)
		if onRetry != nil {
			onRetry(attempt, delay)
		}
	}
	return m
}

// OnChange registers fn to receive a snapshot after every state change. fn
// runs on the goroutine that made the change and must not block.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Token returns the current session token, or "" when signed out. It is the
// token source for authenticated remote calls.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Token
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:    m.state,
		Session:  m.session.Clone(),
		Profile:  m.profile.Clone(),
		Verified: m.verified,
		Err:      m.err,
		Notice:   m.notice,
	}
}

// update runs fn under the lock and notifies listeners afterwards. It
// reports false, without calling fn, when seq is no longer current.
func (m *Manager) update(seq uint64, fn func()) bool {
	m.mu.Lock()
	if seq != 0 && seq != m.seq {
		m.mu.Unlock()
		return false
	}
	fn()
	snap := m.snapshotLocked()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

// settleLocked lands the machine in a settled state after the flow driving
// it was superseded without reaching a decision of its own.
func (m *Manager) settleLocked() {
	switch {
	case m.session == nil:
		m.transitionLocked(StateUnauthenticated)
	case m.verified:
		m.transitionLocked(StateReady)
	default:
		if m.profile == nil || m.profile.ID != m.session.OwnerID {
			m.profile = m.cachedProfile(m.session.OwnerID)
		}
		if m.err == nil {
			m.err = fmt.Errorf("%w: %w", ErrProfileUnverified, errSuperseded)
		}
		m.transitionLocked(StateDegraded)
	}
}

func (m *Manager) current(seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return seq == m.seq
}

func (m *Manager) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.observer.ObserveTransition(from, to)
	m.logger.Debug("auth state changed", "from", from, "to", to)
}

// teardownLocked forgets the session and everything derived from it, both in
// memory and on disk.
func (m *Manager) teardownLocked() {
	m.seq++
	m.session = nil
	m.profile = nil
	m.verified = false
	m.err = nil
	m.notice = ""
	if m.deps.Cache != nil {
		m.deps.Cache.Clear()
	}
	if m.deps.Credentials != nil {
		if err := m.deps.Credentials.ClearSession(); err != nil {
			m.logger.Error("failed to clear credential", "error", err)
		}
	}
}

func (m *Manager) persist(s *session.Session) {
	if m.deps.Credentials == nil {
		return
	}
	if err := m.deps.Credentials.SaveSession(s); err != nil {
		m.logger.Error("failed to persist credential", "owner_id", s.OwnerID, "error", err)
	}
}

func (m *Manager) cachedProfile(ownerID string) *profile.Profile {
	if m.deps.Cache == nil {
		return nil
	}
	return m.deps.Cache.Read(ownerID)
}

// Bootstrap rehydrates the persisted credential and reconciles it with the
// remote. It returns once the machine has settled or the bootstrap timeout
// has expired, whichever comes first. On expiry the pending flow is abandoned
// and the machine lands in StateDegraded when a session exists, otherwise in
// StateUnauthenticated.
func (m *Manager) Bootstrap(ctx context.Context) Snapshot {
	m.update(0, func() { m.transitionLocked(StateBootstrapping) })

	var sess *session.Session
	if m.deps.Credentials != nil {
		s, err := m.deps.Credentials.LoadSession()
		if err != nil {
			m.logger.Error("failed to load credential", "error", err)
		}
		sess = s
	}
	if sess == nil {
		m.update(0, func() { m.transitionLocked(StateUnauthenticated) })
		return m.Snapshot()
	}

	var seq uint64
	m.update(0, func() {
		m.seq++
		seq = m.seq
		m.session = sess.Clone()
		m.transitionLocked(StateValidating)
	})

	flowCtx, cancel := context.WithTimeout(ctx, m.bootstrapTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.establish(flowCtx, seq, sess)
	}()

	timer := time.NewTimer(m.bootstrapTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		m.abandonBootstrap(seq)
	case <-ctx.Done():
		m.abandonBootstrap(seq)
	}
	return m.Snapshot()
}

func (m *Manager) abandonBootstrap(seq uint64) {
	m.update(seq, func() {
		if m.state.Settled() {
			return
		}
		m.seq++
		m.logger.Warn("bootstrap did not settle in time, abandoning pending flow", "timeout", m.bootstrapTimeout)
		if m.session == nil {
			m.transitionLocked(StateUnauthenticated)
			return
		}
		if m.profile == nil {
			m.profile = m.cachedProfile(m.session.OwnerID)
		}
		m.verified = false
		m.err = fmt.Errorf("%w: %w", ErrProfileUnverified, context.DeadlineExceeded)
		m.transitionLocked(StateDegraded)
	})
}

// HandleEvent applies an identity event. Events are dropped while a
// verification flow is in progress; that flow establishes session and
// profile itself. HandleEvent returns once the resulting flow has settled.
func (m *Manager) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case SessionAppeared:
		return m.sessionAppeared(ctx, ev.Session)
	case SessionRefreshed:
		return m.sessionRefreshed(ctx, ev.Session)
	case SessionDestroyed:
		m.sessionDestroyed()
		return nil
	}
	return fmt.Errorf("account: unknown event %v", ev.Kind)
}

func (m *Manager) exclusiveInProgress(ev EventKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exclusive != 0 {
		m.logger.Info("verification in progress, dropping identity event", "event", ev)
		return true
	}
	return false
}

func (m *Manager) sessionAppeared(ctx context.Context, s *session.Session) error {
	if s == nil || s.Token == "" {
		return ErrNoSession
	}
	sess := s.Clone()

	var seq uint64
	m.update(0, func() {
		if m.exclusive != 0 {
			m.logger.Info("verification in progress, dropping identity event", "event", SessionAppeared)
			return
		}
		m.seq++
		seq = m.seq
		m.session = sess.Clone()
		m.notice = ""
		m.transitionLocked(StateValidating)
	})
	if seq == 0 {
		return nil
	}

	m.persist(sess)
	m.establish(ctx, seq, sess)
	return nil
}

func (m *Manager) sessionRefreshed(ctx context.Context, s *session.Session) error {
	if s == nil || s.Token == "" {
		return ErrNoSession
	}
	if m.exclusiveInProgress(SessionRefreshed) {
		return nil
	}

	sameOwner := false
	m.update(0, func() {
		if m.exclusive != 0 || m.session == nil || m.session.OwnerID != s.OwnerID {
			return
		}
		switch m.state {
		case StateUnauthenticated, StateInvalid, StateBootstrapping:
			return
		}
		sameOwner = true
		m.session.Token = s.Token
		m.session.ExpiresAt = s.ExpiresAt
	})
	if !sameOwner {
		return m.sessionAppeared(ctx, s)
	}
	m.persist(s)
	return nil
}

func (m *Manager) sessionDestroyed() {
	if m.exclusiveInProgress(SessionDestroyed) {
		return
	}
	m.update(0, func() {
		m.teardownLocked()
		m.transitionLocked(StateUnauthenticated)
	})
}

// establish validates sess and resolves its profile. It commits nothing once
// seq has been superseded.
func (m *Manager) establish(ctx context.Context, seq uint64, sess *session.Session) {
	res := m.deps.Validator.Validate(ctx, sess)
	m.observer.ObserveValidation(res.Kind.String())

	switch res.Kind {
	case session.Invalid:
		m.update(seq, func() {
			m.transitionLocked(StateInvalid)
			m.teardownLocked()
			m.err = ErrSessionInvalid
			m.notice = noticeSessionExpired
			m.transitionLocked(StateUnauthenticated)
		})
		return

	case session.Inconclusive:
		if cached := m.cachedProfile(sess.OwnerID); cached != nil {
			m.update(seq, func() {
				m.profile = cached
				m.verified = false
				m.err = nil
				m.transitionLocked(StateDegraded)
			})
			m.logger.Info("session not confirmed, using cached profile", "owner_id", sess.OwnerID, "cause", res.Err)
			return
		}

	case session.Validated:
		// The validated owner wins in memory; the persisted credential is
		// left as it was.
		sess = res.Session
		if !m.update(seq, func() { m.session = sess.Clone() }) {
			return
		}
	}

	m.resolve(ctx, seq, sess.OwnerID, m.policy)
}

// resolve runs the resolver under p and applies the outcome.
func (m *Manager) resolve(ctx context.Context, seq uint64, ownerID string, p retry.Policy) profile.Outcome {
	if !m.update(seq, func() { m.transitionLocked(StateResolving) }) {
		return profile.Failed(errSuperseded)
	}

	outcome := retry.Run(ctx, p, func(ctx context.Context) profile.Outcome {
		if !m.current(seq) {
			return profile.Failed(errSuperseded)
		}
		o := m.deps.Resolver.Resolve(ctx, ownerID)
		m.observer.ObserveResolution(o.Kind.String())
		return o
	}, func(o profile.Outcome) bool {
		return o.Terminal() || errors.Is(o.Err, errSuperseded)
	})

	if !m.apply(seq, ownerID, outcome) {
		return profile.Failed(errSuperseded)
	}
	return outcome
}

// apply reports false when the outcome was dropped for a newer flow.
func (m *Manager) apply(seq uint64, ownerID string, o profile.Outcome) bool {
	if errors.Is(o.Err, errSuperseded) {
		return false
	}
	return m.update(seq, func() {
		switch o.Kind {
		case profile.OutcomeFound:
			if m.deps.Cache != nil {
				m.deps.Cache.Write(*o.Profile, ownerID)
			}
			m.profile = o.Profile.Clone()
			m.verified = true
			m.err = nil
			m.transitionLocked(StateReady)

		case profile.OutcomeNotFound:
			m.profile = nil
			m.verified = true
			m.err = nil
			m.transitionLocked(StateReady)

		default:
			if m.profile == nil || m.profile.ID != ownerID {
				m.profile = m.cachedProfile(ownerID)
			}
			m.verified = false
			cause := o.Err
			if o.Kind == profile.OutcomeAmbiguousBlocked {
				cause = ErrProfileAmbiguous
			}
			m.err = fmt.Errorf("%w: %w", ErrProfileUnverified, cause)
			m.transitionLocked(StateDegraded)
			m.logger.Warn("could not verify profile", "owner_id", ownerID, "outcome", o.Kind, "error", cause)
		}
	})
}

// RefreshProfile runs the resolver once, without the retry policy. It is the
// manual retry path for a Degraded state. A result dropped for a newer flow
// is reported as ErrProfileUnverified.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	var (
		seq     uint64
		ownerID string
		err     error
	)
	m.update(0, func() {
		switch {
		case m.exclusive != 0:
			err = ErrBusy
		case m.session == nil:
			err = ErrNoSession
		default:
			m.seq++
			seq = m.seq
			ownerID = m.session.OwnerID
		}
	})
	if err != nil {
		return err
	}

	o := m.resolve(ctx, seq, ownerID, retry.Policy{MaxAttempts: 1})
	switch o.Kind {
	case profile.OutcomeFound, profile.OutcomeNotFound:
		return nil
	case profile.OutcomeAmbiguousBlocked:
		return fmt.Errorf("%w: %w", ErrProfileUnverified, ErrProfileAmbiguous)
	}
	return fmt.Errorf("%w: %w", ErrProfileUnverified, o.Err)
}

// SendChallenge asks the identity provider to deliver a one-time code to handle.
func (m *Manager) SendChallenge(ctx context.Context, handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrDelivery)
	}
	if err := m.deps.Authenticator.SendChallenge(ctx, handle); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// VerifyChallenge completes the one-time-code flow. Session and profile are
// installed together from the verification response, and identity events
// arriving meanwhile are dropped, so no caller observes a session without a
// profile decision.
func (m *Manager) VerifyChallenge(ctx context.Context, handle, code string) (VerifyResult, error) {
	handle, code = strings.TrimSpace(handle), strings.TrimSpace(code)
	if handle == "" || code == "" {
		return VerifyResult{}, fmt.Errorf("%w: handle and code are required", ErrVerification)
	}

	var (
		token uint64
		prev  State
		busy  bool
	)
	m.update(0, func() {
		if m.exclusive != 0 {
			busy = true
			return
		}
		m.nextToken++
		token = m.nextToken
		m.exclusive = token
		m.seq++
		prev = m.state
		m.transitionLocked(StateValidating)
	})
	if busy {
		return VerifyResult{}, ErrBusy
	}

	v, err := m.deps.Authenticator.VerifyChallenge(ctx, handle, code)
	if err == nil && (v == nil || v.Session.Token == "" || v.Session.OwnerID == "") {
		err = errors.New("empty session in verification response")
	}

	var (
		result     VerifyResult
		superseded bool
	)
	m.update(0, func() {
		if m.exclusive != token {
			superseded = true
			return
		}
		m.exclusive = 0
		if err != nil {
			if prev.Settled() {
				m.transitionLocked(prev)
			} else {
				m.settleLocked()
			}
			return
		}

		sess := v.Session
		m.session = &sess
		m.profile = v.Profile.Clone()
		m.verified = true
		m.err = nil
		m.notice = ""
		if m.deps.Cache != nil {
			if v.Profile != nil {
				m.deps.Cache.Write(*v.Profile, sess.OwnerID)
			} else {
				m.deps.Cache.Clear()
			}
		}
		m.transitionLocked(StateReady)
		result = VerifyResult{IsNewIdentity: v.IsNewIdentity, Profile: v.Profile.Clone()}
	})

	switch {
	case err != nil:
		return VerifyResult{}, fmt.Errorf("%w: %w", ErrVerification, err)
	case superseded:
		return VerifyResult{}, fmt.Errorf("%w: signed out during verification", ErrVerification)
	}

	m.persist(&v.Session)
	m.logger.Info("identity verified", "owner_id", v.Session.OwnerID, "new_identity", v.IsNewIdentity)
	return result, nil
}

// CreateProfile registers the signed-in identity's profile. Local state is
// updated from in rather than re-read, since the new row may not be readable
// yet.
func (m *Manager) CreateProfile(ctx context.Context, in profile.CreateInput) (*profile.Profile, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	if in.FirstName == "" || in.Email == "" {
		return nil, fmt.Errorf("%w: first name and email are required", ErrProfileWrite)
	}

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	ownerID := m.session.OwnerID
	m.mu.Unlock()

	if err := m.deps.Writer.CreateProfile(ctx, in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileWrite, err)
	}

	var (
		created *profile.Profile
		gone    bool
	)
	m.update(0, func() {
		if m.session == nil || m.session.OwnerID != ownerID {
			gone = true
			return
		}
		p := profile.Profile{
			ID:          ownerID,
			Role:        profile.DefaultRole,
			DisplayName: in.DisplayName(),
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			Email:       in.Email,
		}
		if m.profile != nil && m.profile.ID == ownerID {
			p.OrgID = m.profile.Clone().OrgID
			p.Phone = m.profile.Phone
			if m.profile.Role != "" {
				p.Role = m.profile.Role
			}
		}
		// In-flight resolutions must not overwrite the optimistic profile.
		m.seq++
		m.profile = &p
		m.verified = true
		m.err = nil
		if m.deps.Cache != nil {
			m.deps.Cache.Write(p, ownerID)
		}
		m.transitionLocked(StateReady)
		created = p.Clone()
	})
	if gone {
		return nil, ErrNoSession
	}
	return created, nil
}

// AttachOrganization records locally that the profile joined orgID with
// role. The caller has already performed the authorizing remote write.
func (m *Manager) AttachOrganization(orgID, role string) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return fmt.Errorf("%w: organization id is required", ErrProfileWrite)
	}

	var err error
	m.update(0, func() {
		switch {
		case m.session == nil:
			err = ErrNoSession
			return
		case m.profile == nil:
			err = fmt.Errorf("%w: no profile to attach", ErrProfileWrite)
			return
		}
		p := m.profile.Clone()
		p.OrgID = &orgID
		if role != "" {
			p.Role = role
		}
		m.seq++
		m.profile = p
		if m.deps.Cache != nil {
			m.deps.Cache.Write(*p, m.session.OwnerID)
		}
		if !m.state.Settled() {
			m.settleLocked()
		}
	})
	return err
}

// SignOut invalidates the session remotely when it can and always tears down
// local state. Remote failures are logged and swallowed.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	sess := m.session.Clone()
	m.exclusive = 0
	m.mu.Unlock()

	if sess != nil && m.deps.Authenticator != nil {
		if err := m.deps.Authenticator.SignOut(ctx, sess.Token); err != nil {
			m.logger.Warn("remote sign-out failed, signing out locally", "owner_id", sess.OwnerID, "error", err)
		}
	}

	m.update(0, func() {
		m.teardownLocked()
		m.transitionLocked(StateUnauthenticated)
	})
}
