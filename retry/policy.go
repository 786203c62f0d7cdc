package retry

import "math"

const PROFILE_FAST_SAFE string = "fast_safe"
const PROFILE_BALANCED string = "balanced"
const PROFILE_STRICT_ENTERPRISE string = "strict_enterprise"

type Policy struct {
	MaxAttempts  int     `json:"maxAttempts"`
	BackoffMs    int64   `json:"backoffMs"`
	MaxBackoffMs int64   `json:"maxBackoffMs"`
	JitterRatio  float64 `json:"jitterRatio"`
}

// Overrides carries caller supplied replacements for individual policy
// fields. Nil fields keep the profile's value.
type Overrides struct {
	MaxAttempts  *int     `json:"maxAttempts,omitempty"`
	BackoffMs    *int64   `json:"backoffMs,omitempty"`
	MaxBackoffMs *int64   `json:"maxBackoffMs,omitempty"`
	JitterRatio  *float64 `json:"jitterRatio,omitempty"`
}

var profiles = map[string]Policy{
	PROFILE_FAST_SAFE:         {MaxAttempts: 2, BackoffMs: 250, MaxBackoffMs: 2000, JitterRatio: 0.1},
	PROFILE_BALANCED:          {MaxAttempts: 3, BackoffMs: 1000, MaxBackoffMs: 20000, JitterRatio: 0.2},
	PROFILE_STRICT_ENTERPRISE: {MaxAttempts: 5, BackoffMs: 5000, MaxBackoffMs: 120000, JitterRatio: 0.3},
}

// Resolve merges the named profile with overrides and renormalizes the
// result. Unknown profile names fall back to balanced: policy resolution
// never fails, malformed inputs are clamped rather than rejected so that a
// schedule is always available.
func Resolve(profileName string, overrides *Overrides) Policy {
	policy, ok := profiles[profileName]
	if !ok {
		policy = profiles[PROFILE_BALANCED]
	}
	if overrides != nil {
		if overrides.MaxAttempts != nil {
			policy.MaxAttempts = *overrides.MaxAttempts
		}
		if overrides.BackoffMs != nil {
			policy.BackoffMs = *overrides.BackoffMs
		}
		if overrides.MaxBackoffMs != nil {
			policy.MaxBackoffMs = *overrides.MaxBackoffMs
		}
		if overrides.JitterRatio != nil {
			policy.JitterRatio = *overrides.JitterRatio
		}
	}
	return normalize(policy)
}

func normalize(p Policy) Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffMs < 0 {
		p.BackoffMs = 0
	}
	if p.MaxBackoffMs < p.BackoffMs {
		p.MaxBackoffMs = p.BackoffMs
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.JitterRatio > 1 {
		p.JitterRatio = 1
	}
	return p
}

// RandomSource supplies the jitter draw. *math/rand.Rand satisfies it; tests
// inject a fixed source to make delays deterministic.
type RandomSource interface {
	Float64() float64
}

// ComputeDelay returns the backoff before the given attempt in milliseconds.
// base = min(maxBackoffMs, backoffMs * 2^(attempt-1)); with a non zero jitter
// ratio a symmetric offset in [-base*jitter, +base*jitter] is applied.
func ComputeDelay(policy Policy, attempt int, randomSource RandomSource) int64 {
	policy = normalize(policy)
	if attempt < 1 {
		attempt = 1
	}
	base := policy.BackoffMs
	for i := 1; i < attempt; i++ {
		base = base * 2
		if base >= policy.MaxBackoffMs || base < 0 {
			base = policy.MaxBackoffMs
			break
		}
	}
	if base > policy.MaxBackoffMs {
		base = policy.MaxBackoffMs
	}
	if policy.JitterRatio == 0 {
		return base
	}
	offset := (randomSource.Float64()*2 - 1) * float64(base) * policy.JitterRatio
	delay := int64(math.Round(float64(base) + offset))
	if delay < 0 {
		delay = 0
	}
	return delay
}
