package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpctl/mcpctl/internal/bridge"
	"github.com/mcpctl/mcpctl/internal/config"
	"github.com/mcpctl/mcpctl/internal/log"
	"github.com/mcpctl/mcpctl/internal/mcpclient"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/mcptransport"
	"github.com/mcpctl/mcpctl/internal/oauth"
	"github.com/mcpctl/mcpctl/internal/registry"
	"github.com/mcpctl/mcpctl/internal/secretstore"
)

const (
	clientName    = "mcpctl"
	clientVersion = "0.1.0"
)

// newBridgeServeCommand is the hidden entrypoint bridgemanager.spawnAndAwaitReady
// re-execs (spec §4.8): it builds the transport described by a session's
// registry record and blocks running the Bridge Daemon until shutdown.
func newBridgeServeCommand(a *app) *cobra.Command {
	var (
		name string
		root string
	)
	cmd := &cobra.Command{
		Use:    "bridge-serve",
		Short:  "Run a bridge daemon for one session (internal; spawned by the CLI itself)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return mcperrors.New(mcperrors.KindClient, "--name is required")
			}
			paths := a.paths
			if root != "" {
				paths = config.PathsAt(root)
			}
			return runBridgeServe(cmd.Context(), paths, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name to serve")
	cmd.Flags().StringVar(&root, "root", "", "mcpctl home directory override")
	return cmd
}

func runBridgeServe(ctx context.Context, paths config.Paths, name string) error {
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	reg := registry.New(paths.SessionsFile, config.DefaultLockTimeout, registry.DefaultLivenessProber)
	profiles := registry.NewProfileStore(paths.AuthProfilesFile, config.DefaultLockTimeout)
	secrets := secretstore.New()

	rec, ok, err := reg.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("reading session %q: %w", name, err)
	}
	if !ok {
		return mcperrors.New(mcperrors.KindClient, fmt.Sprintf("no session record for %q", name))
	}

	logFile, err := os.OpenFile(paths.LogPath(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening bridge log file: %w", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, name, false)

	resolved := rec.Config.Resolve()
	state := bridge.NewSharedState()

	transport, err := buildTransport(rec, profiles, secrets, logger, state)
	if err != nil {
		return err
	}

	var proxyBearer string
	if rec.ProxyConfig != nil {
		proxyBearer, _, err = secrets.GetProxyBearer(name)
		if err != nil {
			return fmt.Errorf("loading proxy bearer: %w", err)
		}
	}

	daemon := bridge.New(bridge.Config{
		Name:          name,
		SocketPath:    paths.SocketPath(name),
		ReadyFilePath: paths.ReadyPath(name),
		Transport:     transport,
		ClientInfo:    mcpclient.ClientInfo{Name: clientName, Version: clientVersion},
		CacheTTL:      resolved.CacheTTL,
		CallTimeout:   resolved.CallTimeout,
		Proxy:         rec.ProxyConfig,
		ProxyBearer:   proxyBearer,
		Registry:      reg,
		Logger:        logger,
		State:         state,
	})

	return daemon.Run(ctx)
}

func buildTransport(rec registry.Session, profiles *registry.ProfileStore, secrets *secretstore.Store, logger *log.Logger, state *bridge.SharedState) (mcptransport.Transport, error) {
	switch rec.Transport.Kind {
	case registry.TransportStdio:
		return mcptransport.NewStdioTransport(mcptransport.StdioTransportConfig{
			Command: rec.Transport.Command,
			Args:    rec.Transport.Args,
			Env:     rec.Transport.Env,
			Logger:  logger,
		}), nil

	case registry.TransportHTTP:
		headers, _, err := secrets.GetSessionHeaders(rec.Name)
		if err != nil {
			return nil, fmt.Errorf("loading session headers: %w", err)
		}

		var auth mcptransport.AuthProvider
		if rec.ProfileName != "" {
			refreshBuf := rec.Config.Resolve().RefreshBuffer
			mgr := oauth.NewManager(rec.Transport.URL, rec.ProfileName, refreshBuf, secrets)
			profileName, serverURL := rec.ProfileName, rec.Transport.URL
			mgr.OnRefreshed = func(expiresAt time.Time, scope string) {
				updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				profile, ok, err := profiles.Get(updateCtx, serverURL, profileName)
				if err != nil || !ok {
					return
				}
				profile.ExpiresAt = expiresAt
				if scope != "" {
					profile.Scopes = splitScope(scope)
				}
				_ = profiles.Save(updateCtx, profile)
			}
			auth = bridge.WrapAuth(mgr, state)
		}

		timeout := config.DefaultCallTimeout
		if rec.Transport.TimeoutMs > 0 {
			timeout = time.Duration(rec.Transport.TimeoutMs) * time.Millisecond
		}

		return mcptransport.NewHTTPTransport(mcptransport.HTTPTransportConfig{
			URL:     rec.Transport.URL,
			Headers: headers,
			Timeout: timeout,
			Auth:    auth,
		}), nil

	default:
		return nil, mcperrors.New(mcperrors.KindClient, fmt.Sprintf("unrecognized transport kind %q", rec.Transport.Kind))
	}
}
