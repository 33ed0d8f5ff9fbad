package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alecgard/roster/internal/profile"
)

type recordingSleep struct {
	delays []time.Duration
	err    error
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

func (r *recordingSleep) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func scripted(outcomes ...profile.Outcome) (func(context.Context) profile.Outcome, *int) {
	calls := 0
	return func(context.Context) profile.Outcome {
		o := outcomes[len(outcomes)-1]
		if calls < len(outcomes) {
			o = outcomes[calls]
		}
		calls++
		return o
	}, &calls
}

func terminal(o profile.Outcome) bool { return o.Terminal() }

func TestDefaultPolicyBound(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 3000*time.Millisecond, p.MaxTotalDelay())
}

func TestRun_StopsOnTerminal(t *testing.T) {
	found := profile.Found(&profile.Profile{ID: "u-1"})
	tests := []struct {
		name      string
		outcomes  []profile.Outcome
		wantKind  profile.OutcomeKind
		wantCalls int
		wantWaits []time.Duration
	}{
		{
			name:      "found first try",
			outcomes:  []profile.Outcome{found},
			wantKind:  profile.OutcomeFound,
			wantCalls: 1,
		},
		{
			name:      "not found first try",
			outcomes:  []profile.Outcome{profile.NotFound()},
			wantKind:  profile.OutcomeNotFound,
			wantCalls: 1,
		},
		{
			name:      "ambiguous then found",
			outcomes:  []profile.Outcome{profile.AmbiguousBlocked(), profile.AmbiguousBlocked(), found},
			wantKind:  profile.OutcomeFound,
			wantCalls: 3,
			wantWaits: []time.Duration{200 * time.Millisecond, 400 * time.Millisecond},
		},
		{
			name:      "error then not found",
			outcomes:  []profile.Outcome{profile.Failed(errors.New("timeout")), profile.NotFound()},
			wantKind:  profile.OutcomeNotFound,
			wantCalls: 2,
			wantWaits: []time.Duration{200 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSleep{}
			p := DefaultPolicy()
			p.Sleep = rec.sleep
			fn, calls := scripted(tt.outcomes...)

			out := Run(context.Background(), p, fn, terminal)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantCalls, *calls)
			assert.Equal(t, tt.wantWaits, rec.delays)
		})
	}
}

func TestRun_ExhaustsAndReturnsLastOutcome(t *testing.T) {
	rec := &recordingSleep{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep
	cause := errors.New("upstream 503")
	fn, calls := scripted(
		profile.AmbiguousBlocked(),
		profile.AmbiguousBlocked(),
		profile.AmbiguousBlocked(),
		profile.AmbiguousBlocked(),
		profile.Failed(cause),
	)

	out := Run(context.Background(), p, fn, terminal)
	require.Equal(t, profile.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, cause)
	assert.Equal(t, 5, *calls)
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}, rec.delays)
	assert.LessOrEqual(t, rec.total(), 3000*time.Millisecond)
}

func TestRun_NeverExceedsBound(t *testing.T) {
	for attempts := 1; attempts <= 8; attempts++ {
		rec := &recordingSleep{}
		p := Policy{MaxAttempts: attempts, BaseDelay: 50 * time.Millisecond, Sleep: rec.sleep}
		fn, calls := scripted(profile.AmbiguousBlocked())

		Run(context.Background(), p, fn, terminal)
		assert.Equal(t, attempts, *calls)
		assert.Equal(t, p.MaxTotalDelay(), rec.total())
	}
}

func TestRun_CancelledWaitReturnsLast(t *testing.T) {
	rec := &recordingSleep{err: context.Canceled}
	p := DefaultPolicy()
	p.Sleep = rec.sleep
	fn, calls := scripted(profile.AmbiguousBlocked(), profile.Found(&profile.Profile{}))

	out := Run(context.Background(), p, fn, terminal)
	assert.Equal(t, profile.OutcomeAmbiguousBlocked, out.Kind)
	assert.Equal(t, 1, *calls)
}

func TestRun_OnRetryHook(t *testing.T) {
	var seen []int
	p := DefaultPolicy()
	p.Sleep = (&recordingSleep{}).sleep
	p.OnRetry = func(attempt int, _ time.Duration) { seen = append(seen, attempt) }
	fn, _ := scripted(profile.AmbiguousBlocked())

	Run(context.Background(), p, fn, terminal)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestRun_ZeroAttemptsStillCallsOnce(t *testing.T) {
	fn, calls := scripted(profile.AmbiguousBlocked())
	Run(context.Background(), Policy{}, fn, terminal)
	assert.Equal(t, 1, *calls)
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Wait(context.Background(), time.Millisecond))
}
