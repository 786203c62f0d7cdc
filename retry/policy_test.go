package retry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBalancedProfile(t *testing.T) {
	policy := Resolve(PROFILE_BALANCED, nil)
	require.Equal(t, Policy{MaxAttempts: 3, BackoffMs: 1000, MaxBackoffMs: 20000, JitterRatio: 0.2}, policy)
}

func TestResolveRenormalizes(t *testing.T) {
	maxAttempts := -3
	backoff := int64(5000)
	maxBackoff := int64(100)
	jitter := 7.5
	policy := Resolve(PROFILE_FAST_SAFE, &Overrides{
		MaxAttempts:  &maxAttempts,
		BackoffMs:    &backoff,
		MaxBackoffMs: &maxBackoff,
		JitterRatio:  &jitter,
	})
	require.Equal(t, 1, policy.MaxAttempts)
	require.Equal(t, int64(5000), policy.BackoffMs)
	// clamped up to backoff
	require.Equal(t, int64(5000), policy.MaxBackoffMs)
	require.Equal(t, 1.0, policy.JitterRatio)
}

func TestResolveUnknownProfileFallsBack(t *testing.T) {
	require.Equal(t, Resolve(PROFILE_BALANCED, nil), Resolve("no_such_profile", nil))
}

func TestComputeDelayWithoutJitter(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BackoffMs: 1000, MaxBackoffMs: 20000, JitterRatio: 0}
	require.Equal(t, int64(1000), ComputeDelay(policy, 1, nil))
	require.Equal(t, int64(2000), ComputeDelay(policy, 2, nil))
	require.Equal(t, int64(4000), ComputeDelay(policy, 3, nil))
	// capped at maxBackoffMs
	require.Equal(t, int64(20000), ComputeDelay(policy, 10, nil))
	// attempt below 1 is clamped, not rejected
	require.Equal(t, int64(1000), ComputeDelay(policy, 0, nil))
}

func TestComputeDelayJitterBounds(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BackoffMs: 500, MaxBackoffMs: 8000, JitterRatio: 0.4}
	source := rand.New(rand.NewSource(42))
	for attempt := 1; attempt <= 8; attempt++ {
		base := float64(policy.BackoffMs) * math.Pow(2, float64(attempt-1))
		if base > float64(policy.MaxBackoffMs) {
			base = float64(policy.MaxBackoffMs)
		}
		for i := 0; i < 100; i++ {
			delay := ComputeDelay(policy, attempt, source)
			require.GreaterOrEqual(t, float64(delay), math.Max(0, base-base*policy.JitterRatio)-1)
			require.LessOrEqual(t, float64(delay), base+base*policy.JitterRatio+1)
		}
	}
}

type fixedSource struct{ value float64 }

func (f fixedSource) Float64() float64 { return f.value }

func TestComputeDelayDeterministicWithInjectedSource(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BackoffMs: 1000, MaxBackoffMs: 20000, JitterRatio: 0.2}
	// Float64 of 1.0 means full positive offset
	require.Equal(t, int64(1200), ComputeDelay(policy, 1, fixedSource{value: 1.0}))
	// Float64 of 0 means full negative offset
	require.Equal(t, int64(800), ComputeDelay(policy, 1, fixedSource{value: 0}))
	// Float64 of 0.5 means no offset
	require.Equal(t, int64(1000), ComputeDelay(policy, 1, fixedSource{value: 0.5}))
}
