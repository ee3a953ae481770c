package oauth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/mcpctl/mcpctl/internal/secretstore"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	m.Run()
}

func TestManagerRefreshPersistsNewCredentials(t *testing.T) {
	var refreshCount int
	srv := newRefreshServerWithURL(t, &refreshCount)
	defer srv.Close()

	secrets := secretstore.New()
	require.NoError(t, secrets.SetOAuthCredentials(srv.URL, "default", secretstore.OAuthCredentials{
		ClientID:     "client-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}))

	mgr := NewManager(srv.URL, "default", time.Minute, secrets)
	mgr.HTTPClient = srv.Client()

	tok, err := mgr.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.Equal(t, 1, refreshCount)

	creds, ok, err := secrets.GetOAuthCredentials(srv.URL, "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
}

func TestManagerRefreshInvokesOnRefreshedCallback(t *testing.T) {
	var refreshCount int
	srv := newRefreshServerWithURL(t, &refreshCount)
	defer srv.Close()

	secrets := secretstore.New()
	require.NoError(t, secrets.SetOAuthCredentials(srv.URL, "default", secretstore.OAuthCredentials{
		ClientID:     "client-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}))

	mgr := NewManager(srv.URL, "default", time.Minute, secrets)
	mgr.HTTPClient = srv.Client()

	var (
		gotExpiry time.Time
		gotScope  string
		calls     int
	)
	mgr.OnRefreshed = func(expiresAt time.Time, scope string) {
		calls++
		gotExpiry = expiresAt
		gotScope = scope
	}

	_, err := mgr.Token(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, gotExpiry.After(time.Now()))
	assert.Equal(t, "", gotScope)
}

func TestManagerConcurrentRefreshesCoalesce(t *testing.T) {
	var refreshCount int
	srv := newRefreshServerWithURL(t, &refreshCount)
	defer srv.Close()

	secrets := secretstore.New()
	require.NoError(t, secrets.SetOAuthCredentials(srv.URL, "default", secretstore.OAuthCredentials{
		ClientID:     "client-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}))

	mgr := NewManager(srv.URL, "default", time.Minute, secrets)
	mgr.HTTPClient = srv.Client()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Refresh(t.Context())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, refreshCount)
}

func TestManagerSkipsRefreshWhenFarFromExpiry(t *testing.T) {
	var refreshCount int
	srv := newRefreshServerWithURL(t, &refreshCount)
	defer srv.Close()

	secrets := secretstore.New()
	require.NoError(t, secrets.SetOAuthCredentials(srv.URL, "default", secretstore.OAuthCredentials{
		ClientID:     "client-1",
		AccessToken:  "still-good",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}))

	mgr := NewManager(srv.URL, "default", time.Minute, secrets)
	mgr.HTTPClient = srv.Client()

	tok, err := mgr.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok)
	assert.Equal(t, 0, refreshCount)
}

// newRefreshServerWithURL builds a discovery+token server where the
// discovery document's token_endpoint points back at the server's own
// /token path (the URL isn't known until after httptest.NewServer starts).
func newRefreshServerWithURL(t *testing.T, refreshCount *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"issuer":"` + srv.URL + `","token_endpoint":"` + srv.URL + `/token"}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		*refreshCount++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	})
	srv = httptest.NewServer(mux)
	return srv
}
