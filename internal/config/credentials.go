package config

import (
	"context"
	"errors"
	"os"

	"github.com/aman-churiwal/capital-proxy/internal/session"
)

// Reads upstream credentials from the environment on every call so rotated
// secrets are picked up without a restart. Values missing from the
// environment fall back to the loaded config.
type EnvCredentials struct {
	Fallback UpstreamConfig
}

func (e EnvCredentials) Credentials(ctx context.Context) (session.Credentials, error) {
	creds := session.Credentials{
		Identifier: envOr("CAPITAL_IDENTIFIER", e.Fallback.Identifier),
		Password:   envOr("CAPITAL_PASSWORD", e.Fallback.Password),
		APIKey:     envOr("CAPITAL_API_KEY", e.Fallback.APIKey),
	}

	if creds.Identifier == "" || creds.Password == "" || creds.APIKey == "" {
		return session.Credentials{}, errors.New("upstream credentials are not configured")
	}

	return creds, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
