// Package session owns the upstream login session: it authenticates with the
// configured credentials, keeps the issued token pair together with its expiry,
// and runs every authenticated upstream call through admission control with a
// single re-login on rejection.
package session

import (
	"context"
	"time"
)

const (
	// Upstream sessions stay valid for 15 minutes of inactivity
	DefaultValidity = 15 * time.Minute

	// Sessions are replaced this long before the upstream would expire them
	DefaultBuffer = time.Minute
)

// Token pair issued by a successful upstream login
type Credential struct {
	SessionToken  string
	SecurityToken string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Reports whether both tokens are present and now is before ExpiresAt
func (c Credential) Valid(now time.Time) bool {
	return c.SessionToken != "" && c.SecurityToken != "" && now.Before(c.ExpiresAt)
}

func (c Credential) Empty() bool {
	return c.SessionToken == "" && c.SecurityToken == ""
}

// Reports whether both credentials carry the same token pair
func (c Credential) SameTokens(other Credential) bool {
	return c.SessionToken == other.SessionToken && c.SecurityToken == other.SecurityToken
}

type State int

const (
	StateUninitialized State = iota
	StateValid
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Computes when a freshly issued credential must be replaced
type ExpiryPolicy struct {
	Validity time.Duration
	Buffer   time.Duration
}

func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{Validity: DefaultValidity, Buffer: DefaultBuffer}
}

func (p ExpiryPolicy) ExpiresAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(p.Validity - p.Buffer)
}

// Login secrets for the upstream account
type Credentials struct {
	Identifier string
	Password   string
	APIKey     string
}

// Supplies login secrets. Implementations may rotate them between calls.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Fixed credentials, mostly for tests and single-shot tools
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(ctx context.Context) (Credentials, error) {
	return Credentials(s), nil
}
