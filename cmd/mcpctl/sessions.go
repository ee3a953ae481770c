package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newSessionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and clean up registered sessions",
	}
	cmd.AddCommand(newSessionsLsCommand(a), newSessionsCleanCommand(a))
	return cmd
}

func newSessionsLsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List every registered session, consolidating stale records first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := a.registry.Consolidate(ctx, false); err != nil {
				return err
			}
			sessions, err := a.registry.Load(ctx)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(sessions))
			for name := range sessions {
				names = append(names, name)
			}
			sort.Strings(names)

			if a.jsonOutput {
				out := make([]any, 0, len(names))
				for _, name := range names {
					out = append(out, sessions[name])
				}
				return printResult(a, out)
			}

			for _, name := range names {
				rec := sessions[name]
				fmt.Printf("%s\t%s\t%s\n", rec.Name, rec.Transport.Kind, rec.Status)
			}
			return nil
		},
	}
}

func newSessionsCleanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Mark dead bridges crashed and remove expired session records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.registry.Consolidate(cmd.Context(), true)
			if err != nil {
				return err
			}
			for _, name := range result.ExpiredNames {
				_ = a.secrets.DeleteSessionHeaders(name)
				_ = a.secrets.DeleteProxyBearer(name)
			}
			return printResult(a, result)
		},
	}
}
