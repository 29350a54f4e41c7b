package session

import (
	"errors"
	"sync"
	"time"
)

var ErrIncompleteCredential = errors.New("session token and security token must be set together")

// Holds the current upstream credential. All access goes through the
// methods below, which never let one token exist without the other.
type Store struct {
	mu   sync.RWMutex
	cred Credential
}

func NewStore() *Store {
	return &Store{}
}

// Returns a copy of the current credential
func (s *Store) Snapshot() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Replaces the credential wholesale. A half-empty pair is rejected and the
// store is left untouched.
func (s *Store) Replace(cred Credential) error {
	if cred.SessionToken == "" || cred.SecurityToken == "" {
		return ErrIncompleteCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	return nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
}

func (s *Store) Valid(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.Valid(now)
}

func (s *Store) State(now time.Time) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.cred.Empty():
		return StateUninitialized
	case s.cred.Valid(now):
		return StateValid
	default:
		return StateExpired
	}
}
