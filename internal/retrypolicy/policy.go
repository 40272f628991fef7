// Package retrypolicy decides whether a failed attempt is tried again and
// how long to wait before it is.
package retrypolicy

import "time"

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// New returns a policy, substituting defaults for non-positive values.
func New(maxRetries int, baseDelay time.Duration) Policy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return Policy{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide permits a retry only for retryable failures with retry budget left.
// The delay doubles per consumed retry: base, 2*base, 4*base, ...
func (p Policy) Decide(retryable bool, retryCount int) Decision {
	if !retryable || retryCount >= p.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.BaseDelay << retryCount}
}
