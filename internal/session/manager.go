package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/ratelimit"
	"github.com/aman-churiwal/capital-proxy/internal/upstream"
)

const (
	sessionPath = "/session"

	DefaultMaxAuthRetries = 1
	DefaultGateCapacity   = 25
)

// Sends raw calls to the upstream API
type Upstream interface {
	Do(ctx context.Context, d upstream.Descriptor, header http.Header) (*upstream.Response, error)
}

// Receives session and upstream call events, typically for metrics
type Observer interface {
	LoginCompleted(success bool, elapsed time.Duration)
	AuthRetry()
	AdmissionWait(waited time.Duration)
	UpstreamCall(method string, statusCode int, elapsed time.Duration)
}

type Config struct {
	Client      Upstream
	Credentials CredentialSource
	Store       *Store         // Default: empty store
	Gate        ratelimit.Gate // Default: concurrency gate of 25
	Policy      ExpiryPolicy   // Default: 15 minutes minus 1 minute

	// Re-logins allowed per logical call after a 401. Default: 1
	MaxAuthRetries int

	Observer Observer
	Now      func() time.Time
}

// Manager is the single path by which authenticated calls reach the upstream.
type Manager struct {
	client         Upstream
	credentials    CredentialSource
	store          *Store
	gate           ratelimit.Gate
	policy         ExpiryPolicy
	maxAuthRetries int
	observer       Observer
	now            func() time.Time

	// Serialises the read-decide-write sequence of every login. Waiters
	// give up when their context ends.
	loginLock chan struct{}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Session state without the tokens themselves
type Status struct {
	State     string     `json:"state"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiresIn float64    `json:"expires_in_seconds"`
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("session manager requires an upstream client")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("session manager requires a credential source")
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Gate == nil {
		cfg.Gate = ratelimit.NewConcurrencyGate(DefaultGateCapacity)
	}
	if cfg.Policy.Validity <= 0 {
		cfg.Policy = DefaultExpiryPolicy()
	}
	if cfg.Policy.Buffer < 0 || cfg.Policy.Buffer >= cfg.Policy.Validity {
		return nil, fmt.Errorf("session buffer %s must be shorter than validity %s", cfg.Policy.Buffer, cfg.Policy.Validity)
	}
	if cfg.MaxAuthRetries <= 0 {
		cfg.MaxAuthRetries = DefaultMaxAuthRetries
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		client:         cfg.Client,
		credentials:    cfg.Credentials,
		store:          cfg.Store,
		gate:           cfg.Gate,
		policy:         cfg.Policy,
		maxAuthRetries: cfg.MaxAuthRetries,
		observer:       cfg.Observer,
		now:            cfg.Now,
		loginLock:      make(chan struct{}, 1),
	}, nil
}

func (m *Manager) lockLogin(ctx context.Context) error {
	select {
	case m.loginLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for upstream login: %w", ctx.Err())
	}
}

func (m *Manager) unlockLogin() {
	<-m.loginLock
}

// Logs in unless the stored credential is still valid. Concurrent callers
// that find the session expired wait for a single login.
func (m *Manager) EnsureValidSession(ctx context.Context) error {
	if m.store.Valid(m.now()) {
		return nil
	}

	if err := m.lockLogin(ctx); err != nil {
		return err
	}
	defer m.unlockLogin()

	if m.store.Valid(m.now()) {
		return nil
	}
	return m.loginLocked(ctx)
}

// Opens a new upstream session unconditionally
func (m *Manager) Login(ctx context.Context) error {
	if err := m.lockLogin(ctx); err != nil {
		return err
	}
	defer m.unlockLogin()
	return m.loginLocked(ctx)
}

// Caller must hold the login lock. The store is only written on success.
func (m *Manager) loginLocked(ctx context.Context) error {
	creds, err := m.credentials.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load upstream credentials: %w", err)
	}

	header := http.Header{}
	header.Set(upstream.HeaderAPIKey, creds.APIKey)

	start := time.Now()
	resp, err := m.client.Do(ctx, upstream.Descriptor{
		Method: http.MethodPost,
		Path:   sessionPath,
		Body:   loginRequest{Identifier: creds.Identifier, Password: creds.Password},
	}, header)
	if err != nil {
		m.observer.LoginCompleted(false, time.Since(start))
		log.Printf("Upstream login failed: %v", err)
		return err
	}

	if resp.StatusCode != http.StatusOK {
		m.observer.LoginCompleted(false, time.Since(start))
		log.Printf("Upstream login rejected with status %d", resp.StatusCode)
		return &AuthenticationError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	issuedAt := m.now()
	cred := Credential{
		SessionToken:  resp.Header.Get(upstream.HeaderSessionToken),
		SecurityToken: resp.Header.Get(upstream.HeaderSecurityToken),
		IssuedAt:      issuedAt,
		ExpiresAt:     m.policy.ExpiresAt(issuedAt),
	}
	if err := m.store.Replace(cred); err != nil {
		m.observer.LoginCompleted(false, time.Since(start))
		return &AuthenticationError{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Reason:     "login response did not carry both session tokens",
		}
	}

	m.observer.LoginCompleted(true, time.Since(start))
	log.Printf("Upstream session established, valid until %s", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Runs an authenticated call and returns its JSON body, or {} when the
// upstream answered with an empty body.
func (m *Manager) Execute(ctx context.Context, d upstream.Descriptor) (json.RawMessage, error) {
	resp, err := m.do(ctx, d)
	if err != nil {
		return nil, err
	}
	return decodeBody(d, resp)
}

// Switches the active upstream account. If the upstream rotates the tokens
// the new pair replaces the stored one.
func (m *Manager) SwitchAccount(ctx context.Context, accountID string) (json.RawMessage, error) {
	resp, err := m.do(ctx, upstream.Descriptor{
		Method: http.MethodPut,
		Path:   sessionPath,
		Body:   map[string]string{"accountId": accountID},
	})
	if err != nil {
		return nil, err
	}

	m.adoptRotatedTokens(resp)
	return decodeBody(upstream.Descriptor{Path: sessionPath}, resp)
}

// Closes the upstream session and forgets the local credential
func (m *Manager) Logout(ctx context.Context) (json.RawMessage, error) {
	resp, err := m.do(ctx, upstream.Descriptor{Method: http.MethodDelete, Path: sessionPath})
	if err != nil {
		return nil, err
	}

	m.loginLock <- struct{}{}
	m.store.Clear()
	m.unlockLogin()

	log.Println("Upstream session closed")
	return decodeBody(upstream.Descriptor{Path: sessionPath}, resp)
}

func (m *Manager) Status() Status {
	now := m.now()
	cred := m.store.Snapshot()
	status := Status{State: m.store.State(now).String()}

	if !cred.Empty() {
		issued, expires := cred.IssuedAt, cred.ExpiresAt
		status.IssuedAt = &issued
		status.ExpiresAt = &expires
		if remaining := expires.Sub(now); remaining > 0 {
			status.ExpiresIn = remaining.Seconds()
		}
	}

	return status
}

// Runs the call with at most maxAuthRetries re-logins after a 401
func (m *Manager) do(ctx context.Context, d upstream.Descriptor) (*upstream.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := m.EnsureValidSession(ctx); err != nil {
			return nil, err
		}

		cred := m.store.Snapshot()
		resp, err := m.send(ctx, d, cred)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if attempt < m.maxAuthRetries {
				m.observer.AuthRetry()
				log.Printf("Upstream rejected session on %s %s, logging in again", d.Method, d.Path)
				if err := m.refreshRejected(ctx, cred); err != nil {
					return nil, err
				}
				continue
			}

			m.discardRejected(cred)
			return nil, upstreamError(d, resp)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, upstreamError(d, resp)
		}

		return resp, nil
	}
}

// Holds one admission slot for the duration of a single HTTP call
func (m *Manager) send(ctx context.Context, d upstream.Descriptor, cred Credential) (*upstream.Response, error) {
	creds, err := m.credentials.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load upstream credentials: %w", err)
	}

	header := http.Header{}
	header.Set(upstream.HeaderAPIKey, creds.APIKey)
	header.Set(upstream.HeaderSessionToken, cred.SessionToken)
	header.Set(upstream.HeaderSecurityToken, cred.SecurityToken)

	waitStart := time.Now()
	if err := m.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for upstream admission: %w", err)
	}
	defer m.gate.Release()
	m.observer.AdmissionWait(time.Since(waitStart))

	start := time.Now()
	resp, err := m.client.Do(ctx, d, header)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	m.observer.UpstreamCall(d.Method, statusCode, time.Since(start))

	return resp, err
}

// Logs in again unless another caller already replaced the rejected tokens
func (m *Manager) refreshRejected(ctx context.Context, rejected Credential) error {
	if err := m.lockLogin(ctx); err != nil {
		return err
	}
	defer m.unlockLogin()

	current := m.store.Snapshot()
	if !current.SameTokens(rejected) && current.Valid(m.now()) {
		return nil
	}
	return m.loginLocked(ctx)
}

// A fresh session was rejected as well; drop it so the next call starts over
func (m *Manager) discardRejected(rejected Credential) {
	m.loginLock <- struct{}{}
	defer m.unlockLogin()

	if m.store.Snapshot().SameTokens(rejected) {
		m.store.Clear()
	}
}

func (m *Manager) adoptRotatedTokens(resp *upstream.Response) {
	sessionToken := resp.Header.Get(upstream.HeaderSessionToken)
	securityToken := resp.Header.Get(upstream.HeaderSecurityToken)
	if sessionToken == "" || securityToken == "" {
		return
	}

	m.loginLock <- struct{}{}
	defer m.unlockLogin()

	issuedAt := m.now()
	cred := Credential{
		SessionToken:  sessionToken,
		SecurityToken: securityToken,
		IssuedAt:      issuedAt,
		ExpiresAt:     m.policy.ExpiresAt(issuedAt),
	}
	if err := m.store.Replace(cred); err != nil {
		log.Printf("Failed to adopt rotated session tokens: %v", err)
		return
	}
	log.Printf("Upstream rotated session tokens, valid until %s", cred.ExpiresAt.Format(time.RFC3339))
}

func upstreamError(d upstream.Descriptor, resp *upstream.Response) error {
	return &upstream.UpstreamError{
		Method:     d.Method,
		Path:       d.Path,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
}

func decodeBody(d upstream.Descriptor, resp *upstream.Response) (json.RawMessage, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, &upstream.DecodeError{Path: d.Path, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return json.RawMessage(body), nil
}

type noopObserver struct{}

func (noopObserver) LoginCompleted(bool, time.Duration)      {}
func (noopObserver) AuthRetry()                              {}
func (noopObserver) AdmissionWait(time.Duration)             {}
func (noopObserver) UpstreamCall(string, int, time.Duration) {}
