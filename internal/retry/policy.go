package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Default retry parameters.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultFactor      = 2.0
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitterBound = 1.0
)

// DefaultConfig returns the default retry configuration.
func DefaultConfig() xfertypes.RetryConfig {
	return xfertypes.RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Factor:      DefaultFactor,
		MaxDelay:    DefaultMaxDelay,
		JitterBound: DefaultJitterBound,
	}
}

// Policy decides whether and when a failed attempt is retried.
type Policy struct {
	cfg xfertypes.RetryConfig
	// rnd returns a value in [0, 1).
	rnd func() float64
}

// NewPolicy creates a policy, filling zero fields from the defaults.
func NewPolicy(cfg xfertypes.RetryConfig) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterBound < 0 {
		cfg.JitterBound = 0
	}
	if cfg.JitterBound > 1 {
		cfg.JitterBound = 1
	}
	return &Policy{cfg: cfg, rnd: rand.Float64}
}

// Config returns the effective configuration.
func (p *Policy) Config() xfertypes.RetryConfig {
	return p.cfg
}

// MaxAttempts returns the attempt limit per part.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry reports whether another attempt follows attempt number attempt
// (1-based) that failed with class. integrityFailures counts integrity failures
// so far, including this one.
func (p *Policy) ShouldRetry(class Class, attempt, integrityFailures int) bool {
	if attempt >= p.cfg.MaxAttempts {
		return false
	}
	switch class {
	case Transient:
		return true
	case Integrity:
		return integrityFailures <= 1
	default:
		return false
	}
}

// Backoff returns the nominal delay after the given failed attempt:
// BaseDelay*Factor^(attempt-1), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Factor, float64(attempt-1))
	if d > float64(p.cfg.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Delay returns the backoff with jitter applied. The result lies in
// [(1-JitterBound)*Backoff, Backoff].
func (p *Policy) Delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	jitter := time.Duration(p.rnd() * p.cfg.JitterBound * float64(d))
	return d - jitter
}
