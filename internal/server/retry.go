package server

import (
	"time"
)

type (
	// Retry computes the pause after the n-th consecutive accept error.
	Retry interface {
		Backoff(n uint64) time.Duration
	}

	// ExponentialRetry doubles the delay per attempt up to MaxDelay, without jitter.
	ExponentialRetry struct {
		InitialDelay time.Duration
		MaxDelay     time.Duration
	}
)

// DefaultRetry matches the accept backoff of net/http.Server.
var DefaultRetry Retry = ExponentialRetry{
	InitialDelay: 5 * time.Millisecond,
	MaxDelay:     1 * time.Second,
}

// Backoff returns InitialDelay doubled n times, capped at MaxDelay.
// The cap is applied before shifting, so large delays never overflow
// into a negative or zero pause.
//
// Example:
//
//	r := ExponentialRetry{InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second}
//	r.Backoff(3) // 40ms
func (er ExponentialRetry) Backoff(n uint64) time.Duration {
	if er.InitialDelay <= 0 || n > 62 || er.InitialDelay > er.MaxDelay>>n {
		return er.MaxDelay
	}
	return er.InitialDelay << n
}
