package secretstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain_setsMockKeyring(t *testing.T) {
	keyring.MockInit()
}

func TestOAuthCredentialsRoundTrip(t *testing.T) {
	keyring.MockInit()
	s := New()

	creds := OAuthCredentials{
		ClientID:     "client-1",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    12345,
	}
	require.NoError(t, s.SetOAuthCredentials("https://mcp.example.com", "default", creds))

	got, ok, err := s.GetOAuthCredentials("https://mcp.example.com", "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, creds, got)

	require.NoError(t, s.DeleteOAuthCredentials("https://mcp.example.com", "default"))
	_, ok, err = s.GetOAuthCredentials("https://mcp.example.com", "default")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionHeadersRoundTrip(t *testing.T) {
	keyring.MockInit()
	s := New()

	headers := map[string]string{"X-Api-Key": "secret-value"}
	require.NoError(t, s.SetSessionHeaders("s1", headers))

	got, ok, err := s.GetSessionHeaders("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, headers, got)
}

func TestProxyBearerRoundTrip(t *testing.T) {
	keyring.MockInit()
	s := New()

	require.NoError(t, s.SetProxyBearer("s1", "tok-abc"))
	got, ok, err := s.GetProxyBearer("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-abc", got)
}

func TestGetMissingReturnsNotOk(t *testing.T) {
	keyring.MockInit()
	s := New()

	_, ok, err := s.GetOAuthCredentials("https://nope.example.com", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
