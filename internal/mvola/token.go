package mvola

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultSafetyMargin  = time.Minute
	defaultTokenLifetime = time.Hour
	defaultTokenAttempts = 2
	defaultTokenBackoff  = 500 * time.Millisecond

	// Forced refreshes never join a normal flight: a caller that rejected
	// the cached token must not be handed the result of an exchange that
	// may have started before the rejection.
	refreshKey      = "token"
	forceRefreshKey = "token-force"
)

// Token is a bearer credential. Values are never mutated once issued; a
// refresh produces a new Token.
type Token struct {
	Value     string
	Type      string
	Scope     string
	IssuedAt  time.Time
	ExpiresIn time.Duration
}

// ExpiresAt is IssuedAt + ExpiresIn.
func (t Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn)
}

// AuthorizationHeader renders the value of the Authorization header.
func (t Token) AuthorizationHeader() string {
	typ := t.Type
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.Value
}

// TokenManager exchanges client credentials for bearer tokens and caches the
// current one until it is within the safety margin of expiry. Concurrent
// callers share a single in-flight exchange.
type TokenManager struct {
	creds      Credentials
	httpClient HTTPDoer
	baseURL    string
	scope      string
	margin     time.Duration
	attempts   int
	backoff    time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	current *Token
	// started numbers exchanges; currentSeq is the number of the one that
	// produced current. An older exchange never replaces a newer token.
	started    uint64
	currentSeq uint64
	group      singleflight.Group
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenHTTPClient sets the requester used for the token exchange.
func WithTokenHTTPClient(c HTTPDoer) TokenOption {
	return func(m *TokenManager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithTokenBaseURL overrides the environment host.
func WithTokenBaseURL(u string) TokenOption {
	return func(m *TokenManager) {
		if u = strings.TrimSpace(u); u != "" {
			m.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithScope overrides the requested OAuth scope.
func WithScope(scope string) TokenOption {
	return func(m *TokenManager) {
		if scope != "" {
			m.scope = scope
		}
	}
}

// WithSafetyMargin sets how long before expiry a cached token stops being served.
func WithSafetyMargin(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d >= 0 {
			m.margin = d
		}
	}
}

// WithTokenAttempts bounds the exchange attempts made for one refresh and the
// pause between them. Only transport failures and 5xx answers are retried.
func WithTokenAttempts(n int, backoff time.Duration) TokenOption {
	return func(m *TokenManager) {
		if n > 0 {
			m.attempts = n
		}
		if backoff >= 0 {
			m.backoff = backoff
		}
	}
}

// WithTokenClock injects the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenLogger lets callers supply a custom logger.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(m *TokenManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewTokenManager builds a TokenManager for creds.
func NewTokenManager(creds Credentials, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		creds:      creds,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    creds.Environment().BaseURL(),
		scope:      DefaultScope,
		margin:     defaultSafetyMargin,
		attempts:   defaultTokenAttempts,
		backoff:    defaultTokenBackoff,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a bearer token valid for at least the safety margin. With
// forceRefresh a new exchange is always performed. When an exchange fails
// while the cached token has not yet expired, the cached token is returned.
func (m *TokenManager) Token(ctx context.Context, forceRefresh bool) (Token, error) {
	if !forceRefresh {
		if tok, ok := m.cached(true); ok {
			return tok, nil
		}
	}

	// The shared exchange outlives the context of the caller that started it.
	exchangeCtx := context.WithoutCancel(ctx)
	key := refreshKey
	if forceRefresh {
		key = forceRefreshKey
	}
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refresh(exchangeCtx, forceRefresh)
	})

	select {
	case <-ctx.Done():
		return Token{}, &AuthError{Op: "token", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// Invalidate drops the cached token so the next call performs an exchange.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// cached returns the current token if it is still usable. With margin the
// safety margin is applied; without it the raw expiry is used.
func (m *TokenManager) cached(margin bool) (Token, bool) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur == nil {
		return Token{}, false
	}
	deadline := cur.ExpiresAt()
	if margin {
		deadline = deadline.Add(-m.effectiveMargin(cur.ExpiresIn))
	}
	if !m.now().Before(deadline) {
		return Token{}, false
	}
	return *cur, true
}

func (m *TokenManager) effectiveMargin(lifetime time.Duration) time.Duration {
	if lifetime <= m.margin {
		return lifetime / 2
	}
	return m.margin
}

func (m *TokenManager) refresh(ctx context.Context, force bool) (Token, error) {
	// A refresh may have completed between the caller's check and this flight.
	if !force {
		if tok, ok := m.cached(true); ok {
			return tok, nil
		}
	}

	m.mu.Lock()
	m.started++
	seq := m.started
	m.mu.Unlock()

	tok, err := m.exchangeWithRetry(ctx)
	if err != nil {
		if stale, ok := m.cached(false); ok {
			m.logger.Warn("token refresh failed; serving unexpired cached token",
				"error", err, "expires_at", stale.ExpiresAt())
			return stale, nil
		}
		return Token{}, err
	}

	m.mu.Lock()
	if m.current == nil || seq >= m.currentSeq {
		m.current = &tok
		m.currentSeq = seq
	}
	m.mu.Unlock()

	m.logger.Info("mvola token refreshed", "expires_in", tok.ExpiresIn, "scope", tok.Scope)
	return tok, nil
}

func (m *TokenManager) exchangeWithRetry(ctx context.Context) (Token, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		tok, err := m.exchange(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == m.attempts {
			break
		}

		m.logger.Info("token exchange failed; retrying", "attempt", attempt, "error", err)
		if m.backoff > 0 {
			timer := time.NewTimer(m.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Token{}, &AuthError{Op: "token", Err: ctx.Err()}
			case <-timer.C:
			}
		}
	}
	return Token{}, lastErr
}

func (m *TokenManager) exchange(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", m.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &AuthError{Op: "token", Err: err}
	}
	req.Header.Set("Authorization", m.creds.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Token{}, &AuthError{Op: "token", Err: &NetworkError{Op: "token", Err: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &AuthError{Op: "token", StatusCode: resp.StatusCode, Err: &NetworkError{Op: "token", Err: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remote := parseRemoteError(body)
		raw := ""
		if remote == nil {
			raw = truncate(string(body), 512)
		}
		return Token{}, &AuthError{Op: "token", StatusCode: resp.StatusCode, Remote: remote, Body: raw}
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, &AuthError{Op: "token", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if payload.AccessToken == "" {
		return Token{}, &AuthError{Op: "token", StatusCode: resp.StatusCode, Body: "token response missing access_token"}
	}

	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	tokenType := payload.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return Token{
		Value:     payload.AccessToken,
		Type:      tokenType,
		Scope:     payload.Scope,
		IssuedAt:  m.now(),
		ExpiresIn: lifetime,
	}, nil
}
