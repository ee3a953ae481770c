package oauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpctl/mcpctl/internal/secretstore"
)

// Manager is the OAuth Token Manager (spec §4.4): it satisfies
// mcptransport.AuthProvider, serving access tokens from the secret store and
// refreshing them preemptively or on demand. Concurrent callers hitting the
// same session coalesce onto a single in-flight refresh via singleflight,
// grounded on the teacher's pkg/gateway/singleflight.go dedup of concurrent
// client builds for the same server.
type Manager struct {
	ServerURL    string
	ProfileName  string
	RefreshBuf   time.Duration
	HTTPClient   *http.Client
	Secrets      *secretstore.Store

	// OnRefreshed, when set, is called after a successful refresh whose
	// token response carried an expiry, with the new expiry and scope so
	// the caller can update non-secret profile metadata (spec §4.4: "update profile metadata (expiresAt, scopes,
	// timestamps) via a persistence callback"). Token material itself
	// never reaches this callback.
	OnRefreshed func(expiresAt time.Time, scope string)

	mu            sync.Mutex
	tokenEndpoint string
	group         singleflight.Group
}

// NewManager constructs a token manager for one (serverURL, profile) pair.
func NewManager(serverURL, profileName string, refreshBuf time.Duration, secrets *secretstore.Store) *Manager {
	return &Manager{
		ServerURL:   serverURL,
		ProfileName: profileName,
		RefreshBuf:  refreshBuf,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		Secrets:     secrets,
	}
}

// Token returns a currently-valid access token, refreshing preemptively if
// it is within RefreshBuf of expiry (spec §4.4). A stored token with no
// recorded expiry is returned as is.
func (m *Manager) Token(ctx context.Context) (string, error) {
	creds, ok, err := m.Secrets.GetOAuthCredentials(m.ServerURL, m.ProfileName)
	if err != nil {
		return "", fmt.Errorf("loading OAuth credentials: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no OAuth credentials stored for %s profile %s; run oauth login first", m.ServerURL, m.ProfileName)
	}

	if creds.AccessToken != "" {
		if creds.ExpiresAt == 0 {
			return creds.AccessToken, nil
		}
		expiry := time.Unix(creds.ExpiresAt, 0)
		if time.Until(expiry) > m.RefreshBuf {
			return creds.AccessToken, nil
		}
	}

	return m.Refresh(ctx)
}

// Refresh forces a synchronous refresh, coalescing concurrent callers onto
// one HTTP round trip.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	key := m.ServerURL + "|" + m.ProfileName
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	creds, ok, err := m.Secrets.GetOAuthCredentials(m.ServerURL, m.ProfileName)
	if err != nil {
		return "", fmt.Errorf("loading OAuth credentials: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no OAuth credentials stored for %s profile %s; run oauth login first", m.ServerURL, m.ProfileName)
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("stored OAuth credentials for %s profile %s have no refresh token", m.ServerURL, m.ProfileName)
	}

	endpoint, err := m.resolveTokenEndpoint(ctx)
	if err != nil {
		return "", err
	}

	tok, err := RefreshGrant(ctx, m.HTTPClient, endpoint, creds.ClientID, creds.ClientSecret, creds.RefreshToken)
	if err != nil {
		return "", err
	}

	updated := creds
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		updated.TokenType = tok.TokenType
	}
	if tok.Scope != "" {
		updated.Scope = tok.Scope
	}
	if tok.ExpiresIn > 0 {
		updated.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).Unix()
	} else {
		updated.ExpiresAt = 0
	}

	if err := m.Secrets.SetOAuthCredentials(m.ServerURL, m.ProfileName, updated); err != nil {
		return "", fmt.Errorf("persisting refreshed OAuth credentials: %w", err)
	}

	if m.OnRefreshed != nil && updated.ExpiresAt != 0 {
		m.OnRefreshed(time.Unix(updated.ExpiresAt, 0), updated.Scope)
	}

	return updated.AccessToken, nil
}

func (m *Manager) resolveTokenEndpoint(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.tokenEndpoint != "" {
		defer m.mu.Unlock()
		return m.tokenEndpoint, nil
	}
	m.mu.Unlock()

	meta, err := DiscoverTokenEndpoint(ctx, m.HTTPClient, m.ServerURL)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.tokenEndpoint = meta.TokenEndpoint
	m.mu.Unlock()
	return meta.TokenEndpoint, nil
}
