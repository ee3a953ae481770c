package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpctl/mcpctl/internal/registry"
)

func newRestartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop a session's bridge and spawn a fresh one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			name := posArgs[0]
			ctx := cmd.Context()

			if err := a.manager.StopBridge(ctx, name); err != nil {
				return err
			}
			// The replacement bridge opens a new upstream session, so the old
			// MCP session id and status (including "expired") are cleared first.
			if _, ok, err := a.registry.Get(ctx, name); err != nil {
				return err
			} else if ok {
				sessionID, status := "", registry.Status("")
				if _, err := a.registry.Update(ctx, name, registry.Patch{MCPSessionID: &sessionID, Status: &status}); err != nil {
					return fmt.Errorf("clearing session state: %w", err)
				}
			}
			rec, err := a.manager.EnsureBridgeHealthy(ctx, name)
			if err != nil {
				return err
			}
			return printResult(a, rec)
		},
	}
}
