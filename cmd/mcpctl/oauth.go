package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/registry"
	"github.com/mcpctl/mcpctl/internal/secretstore"
)

func newOAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage OAuth profiles used to authenticate HTTP sessions",
	}
	cmd.AddCommand(newOAuthLoginCommand(a), newOAuthStatusCommand(a), newOAuthLogoutCommand(a))
	return cmd
}

func newOAuthLoginCommand(a *app) *cobra.Command {
	var (
		profile      string
		clientID     string
		clientSecret string
		accessToken  string
		refreshToken string
		scope        string
	)

	cmd := &cobra.Command{
		Use:   "login <server-url>",
		Short: "Register OAuth credentials for a server under a named profile",
		Long: "Stores a pre-obtained OAuth credential triple in the OS keychain. mcpctl " +
			"never performs the authorization-code exchange itself; obtain the initial " +
			"access/refresh token pair out of band (the server's own OAuth flow) and " +
			"hand them to this command.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			serverURL := posArgs[0]
			ctx := cmd.Context()

			if clientID == "" {
				return mcperrors.New(mcperrors.KindClient, "--client-id is required")
			}
			if accessToken == "" && refreshToken == "" {
				return mcperrors.New(mcperrors.KindClient, "at least one of --access-token or --refresh-token is required")
			}

			creds := secretstore.OAuthCredentials{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				Scope:        scope,
			}
			if err := a.secrets.SetOAuthCredentials(serverURL, profile, creds); err != nil {
				return fmt.Errorf("storing OAuth credentials: %w", err)
			}

			now := time.Now()
			if err := a.profiles.Save(ctx, registry.AuthProfile{
				Name:            profile,
				ServerURL:       serverURL,
				AuthType:        "oauth",
				Scopes:          splitScope(scope),
				AuthenticatedAt: now,
			}); err != nil {
				return fmt.Errorf("saving profile metadata: %w", err)
			}

			if accessToken == "" {
				mgr := a.oauthManagerFor(serverURL, profile, 0)
				if _, err := mgr.Refresh(ctx); err != nil {
					return fmt.Errorf("exchanging refresh token for an access token: %w", err)
				}
			}

			return printResult(a, map[string]string{"status": "logged in", "profile": profile, "serverUrl": serverURL})
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "default", "profile name to store credentials under")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret, if confidential")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "a currently-valid access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "a refresh token to exchange for an access token")
	cmd.Flags().StringVar(&scope, "scope", "", "space-separated OAuth scopes")
	return cmd
}

func newOAuthStatusCommand(a *app) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "status <server-url>",
		Short: "Show a profile's stored metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			serverURL := posArgs[0]
			rec, ok, err := a.profiles.Get(cmd.Context(), serverURL, profile)
			if err != nil {
				return err
			}
			if !ok {
				return mcperrors.New(mcperrors.KindClient, fmt.Sprintf("no profile %q for %s; run oauth login first", profile, serverURL))
			}
			return printResult(a, rec)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "default", "profile name")
	return cmd
}

func newOAuthLogoutCommand(a *app) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "logout <server-url>",
		Short: "Remove a profile's stored credentials and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			serverURL := posArgs[0]
			ctx := cmd.Context()

			if err := a.secrets.DeleteOAuthCredentials(serverURL, profile); err != nil {
				return err
			}
			if err := a.profiles.Delete(ctx, serverURL, profile); err != nil {
				return err
			}
			return printResult(a, map[string]string{"status": "logged out", "profile": profile, "serverUrl": serverURL})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "default", "profile name")
	return cmd
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
