// Package oauth implements the OAuth Token Manager (spec §4.4): discovery
// of authorization-server metadata, the refresh-grant flow, and preemptive
// token refresh with persistence via the secret store.
//
// Grounded on the teacher's cmd/docker-mcp/internal/oauth/discovery.go
// (well-known path probing per RFC 8414/9728) and storage.go
// (retrieve-or-create credential shape, reused here as retrieve-or-refresh).
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServerMetadata is the subset of RFC 8414 Authorization Server Metadata
// this client needs.
type ServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// discoveryPaths are tried in order, first under serverURL itself, per spec
// §4.4: "<serverUrl>/.well-known/oauth-authorization-server",
// "/.well-known/openid-configuration", then the same paths at the origin
// root.
func discoveryPaths(serverURL string) ([]string, error) {
	u, err := parseOrigin(serverURL)
	if err != nil {
		return nil, err
	}
	origin := fmt.Sprintf("%s://%s", u.scheme, u.host)

	var candidates []string
	base := strings.TrimSuffix(serverURL, "/")
	candidates = append(candidates,
		base+"/.well-known/oauth-authorization-server",
		base+"/.well-known/openid-configuration",
	)
	if origin != base {
		candidates = append(candidates,
			origin+"/.well-known/oauth-authorization-server",
			origin+"/.well-known/openid-configuration",
		)
	}
	return candidates, nil
}

type originParts struct {
	scheme string
	host   string
}

func parseOrigin(rawURL string) (originParts, error) {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return originParts{}, fmt.Errorf("invalid server URL %q", rawURL)
	}
	scheme := rawURL[:idx]
	rest := rawURL[idx+3:]
	host := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		host = rest[:slash]
	}
	return originParts{scheme: scheme, host: host}, nil
}

// DiscoverTokenEndpoint tries each well-known path in turn and returns the
// first token_endpoint found, per spec §4.4.
func DiscoverTokenEndpoint(ctx context.Context, httpClient *http.Client, serverURL string) (*ServerMetadata, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	candidates, err := discoveryPaths(serverURL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range candidates {
		meta, err := fetchMetadata(ctx, httpClient, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if meta.TokenEndpoint != "" {
			return meta, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("discovering OAuth token endpoint for %s: %w", serverURL, lastErr)
	}
	return nil, fmt.Errorf("no OAuth discovery document advertised a token_endpoint for %s", serverURL)
}

func fetchMetadata(ctx context.Context, httpClient *http.Client, url string) (*ServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meta ServerMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("parsing discovery document from %s: %w", url, err)
	}
	return &meta, nil
}
