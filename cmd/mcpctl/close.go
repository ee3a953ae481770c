package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCloseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "close <name>",
		Short: "Stop a session's bridge and remove its registry record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			name := posArgs[0]
			ctx := cmd.Context()

			if err := a.manager.StopBridge(ctx, name); err != nil {
				return err
			}
			if err := a.registry.Delete(ctx, name); err != nil {
				return fmt.Errorf("removing session record: %w", err)
			}
			_ = a.secrets.DeleteSessionHeaders(name)
			_ = a.secrets.DeleteProxyBearer(name)

			if a.jsonOutput {
				return printResult(a, map[string]string{"name": name, "status": "closed"})
			}
			fmt.Printf("session %q closed\n", name)
			return nil
		},
	}
}
