package session

import "fmt"

// The upstream refused to open a session. StatusCode and Body are what the
// upstream answered to the login call.
type AuthenticationError struct {
	StatusCode int
	Body       []byte
	Reason     string
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream login failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("upstream login failed (status %d): %s", e.StatusCode, string(e.Body))
}
