// Package secretstore is the single facade allowed to hold secret material
// in memory for longer than one request (spec §4.2). Values are
// JSON-serialized and stored in the OS-native keychain; nothing in this
// package ever writes to a plain file.
//
// Grounded on the teacher's cmd/docker-mcp/secret-management/secret
// namespace-prefix key scheme, swapping its "docker pass" CLI shell-out for
// a direct OS-keychain binding via zalando/go-keyring, the library the rest
// of the retrieved pack (stacklok-toolhive, mcpproxy-go, moat, nebo) uses
// for exactly this purpose.
package secretstore

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

// service is the keychain "service" namespace every key is stored under.
const service = "mcpctl"

// OAuthCredentials is the full OAuth credential triple kept only in the
// keychain (spec §3 "OAuth credentials").
type OAuthCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresAt    int64  `json:"expiresAt"`
	Scope        string `json:"scope,omitempty"`
}

// Store is the typed get/set/delete facade over the OS keychain.
type Store struct{}

// New constructs a Store.
func New() *Store { return &Store{} }

func oauthKey(serverURL, profile string) string {
	return fmt.Sprintf("auth:%s:%s", serverURL, profile)
}

func headersKey(session string) string {
	return fmt.Sprintf("session:%s:headers", session)
}

func proxyBearerKey(session string) string {
	return fmt.Sprintf("session:%s:proxy-bearer", session)
}

func setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling secret: %w", err)
	}
	if err := keyring.Set(service, key, string(data)); err != nil {
		return fmt.Errorf("writing secret to keychain: %w", err)
	}
	return nil
}

func getJSON(key string, v any) (bool, error) {
	raw, err := keyring.Get(service, key)
	if err == keyring.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading secret from keychain: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshaling secret: %w", err)
	}
	return true, nil
}

func deleteKey(key string) error {
	err := keyring.Delete(service, key)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting secret from keychain: %w", err)
	}
	return nil
}

// SetOAuthCredentials stores the full token triple for a (serverURL, profile) pair.
func (s *Store) SetOAuthCredentials(serverURL, profile string, creds OAuthCredentials) error {
	return setJSON(oauthKey(serverURL, profile), creds)
}

// GetOAuthCredentials retrieves the token triple, or ok=false if none is stored.
func (s *Store) GetOAuthCredentials(serverURL, profile string) (OAuthCredentials, bool, error) {
	var creds OAuthCredentials
	ok, err := getJSON(oauthKey(serverURL, profile), &creds)
	return creds, ok, err
}

// DeleteOAuthCredentials removes the token triple.
func (s *Store) DeleteOAuthCredentials(serverURL, profile string) error {
	return deleteKey(oauthKey(serverURL, profile))
}

// SetSessionHeaders stores the per-session HTTP headers (never in sessions.json).
func (s *Store) SetSessionHeaders(session string, headers map[string]string) error {
	return setJSON(headersKey(session), headers)
}

// GetSessionHeaders retrieves the per-session HTTP headers.
func (s *Store) GetSessionHeaders(session string) (map[string]string, bool, error) {
	var headers map[string]string
	ok, err := getJSON(headersKey(session), &headers)
	return headers, ok, err
}

// DeleteSessionHeaders removes the per-session HTTP headers.
func (s *Store) DeleteSessionHeaders(session string) error {
	return deleteKey(headersKey(session))
}

// SetProxyBearer stores the per-session proxy bearer token.
func (s *Store) SetProxyBearer(session, token string) error {
	return setJSON(proxyBearerKey(session), token)
}

// GetProxyBearer retrieves the per-session proxy bearer token.
func (s *Store) GetProxyBearer(session string) (string, bool, error) {
	var token string
	ok, err := getJSON(proxyBearerKey(session), &token)
	return token, ok, err
}

// DeleteProxyBearer removes the per-session proxy bearer token.
func (s *Store) DeleteProxyBearer(session string) error {
	return deleteKey(proxyBearerKey(session))
}
