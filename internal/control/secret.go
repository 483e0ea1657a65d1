package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	// attemptInterval and attemptBurst throttle password checks of one
	// session: a few quick tries are free, after that each try waits for
	// a token.
	attemptInterval = 500 * time.Millisecond
	attemptBurst    = 3
)

// Secret holds the bcrypt hash of the shared control password.
type Secret struct {
	hash []byte
}

// NewSecret hashes password. A password already in bcrypt form is used as
// the hash directly, so the plain secret never has to appear in config.
//
// Parameters:
//   - password: The plain control password, or its bcrypt hash.
//
// Returns:
//   - *Secret: The verifier for the password.
//   - error: If password is empty, a malformed hash, or cannot be hashed.
func NewSecret(password string) (*Secret, error) {
	if password == "" {
		return nil, errors.New("control password cannot be empty")
	}
	var hash []byte
	if isBcryptHash(password) {
		if _, err := bcrypt.Cost([]byte(password)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		hash = []byte(password)
	} else {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
	}
	return &Secret{hash: hash}, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Match reports whether password is the secret. It is not throttled; use
// Attempts for anything driven by a peer.
func (s *Secret) Match(password string) bool {
	return bcrypt.CompareHashAndPassword(s.hash, []byte(password)) == nil
}

// Attempts returns a throttle for the password tries of one session or
// connection. Each caller gets its own token bucket, so guesses on one
// connection never delay the checks of another.
func (s *Secret) Attempts() *Attempts {
	return &Attempts{
		secret:  s,
		limiter: rate.NewLimiter(rate.Every(attemptInterval), attemptBurst),
	}
}

// Attempts checks passwords for a single peer, rate limited.
type Attempts struct {
	secret  *Secret
	limiter *rate.Limiter
}

// Check waits for an attempt token and then reports whether password
// matches. It returns false if ctx ends before a token is available or
// if the wait would outlast the ctx deadline.
func (a *Attempts) Check(ctx context.Context, password string) bool {
	if err := a.limiter.Wait(ctx); err != nil {
		return false
	}
	return a.secret.Match(password)
}
