// Command mcpctl is the CLI collaborator spec.md calls the "out of scope"
// argument parser, output formatter, and package/config resolvers are thin
// glue around: this file wires the session-bridge subsystem's core
// packages (registry, secretstore, bridgemanager, ipcclient, oauth) into a
// small set of cobra commands.
//
// Grounded on the teacher's cmd/docker-mcp/commands/root.go command-tree
// shape, stripped of the Docker-Desktop-specific feature checks and plugin
// bootstrap that have no equivalent in a standalone CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpctl/mcpctl/internal/bridgemanager"
	"github.com/mcpctl/mcpctl/internal/config"
	"github.com/mcpctl/mcpctl/internal/ipcclient"
	"github.com/mcpctl/mcpctl/internal/oauth"
	"github.com/mcpctl/mcpctl/internal/registry"
	"github.com/mcpctl/mcpctl/internal/secretstore"
)

// app bundles every shared dependency a command needs. Constructed once in
// main() and threaded through via cobra's RunE closures.
type app struct {
	paths    config.Paths
	registry *registry.Registry
	profiles *registry.ProfileStore
	secrets  *secretstore.Store
	manager  *bridgemanager.Manager

	jsonOutput bool
	verbose    bool
}

func newApp() (*app, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("resolving mcpctl home directory: %w", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	reg := registry.New(paths.SessionsFile, config.DefaultLockTimeout, registry.DefaultLivenessProber)
	profiles := registry.NewProfileStore(paths.AuthProfilesFile, config.DefaultLockTimeout)
	secrets := secretstore.New()
	manager := bridgemanager.New(paths, reg)

	return &app{
		paths:    paths,
		registry: reg,
		profiles: profiles,
		secrets:  secrets,
		manager:  manager,
	}, nil
}

// oauthManagerFor builds a token manager for a session's configured
// profile, resolving the profile's refresh-buffer override if present.
func (a *app) oauthManagerFor(serverURL, profileName string, refreshBuf time.Duration) *oauth.Manager {
	if refreshBuf <= 0 {
		refreshBuf = config.DefaultRefreshBuffer
	}
	return oauth.NewManager(serverURL, profileName, refreshBuf, a.secrets)
}

// callBridge ensures name's bridge is healthy (spawning one if needed) and
// forwards one IPC request onto it. Every tools/resources/prompts command
// goes through this.
func (a *app) callBridge(ctx context.Context, name, method string, params any) (json.RawMessage, error) {
	rec, err := a.manager.EnsureBridgeHealthy(ctx, name)
	if err != nil {
		return nil, err
	}
	return ipcclient.Call(ctx, rec.SocketPath, method, params, config.DefaultIPCTimeout)
}
