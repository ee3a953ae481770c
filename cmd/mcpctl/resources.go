package main

import (
	"github.com/spf13/cobra"
)

func newResourcesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List, read, and subscribe to resources exposed by a session",
	}
	cmd.AddCommand(
		newResourcesListCommand(a),
		newResourcesReadCommand(a),
		newResourcesSubscribeCommand(a),
		newResourcesUnsubscribeCommand(a),
	)
	return cmd
}

func newResourcesListCommand(a *app) *cobra.Command {
	var templates bool
	cmd := &cobra.Command{
		Use:   "list <session>",
		Short: "List the resources (or, with --templates, resource templates) the session exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			method := "listResources"
			if templates {
				method = "listResourceTemplates"
			}
			raw, err := a.callBridge(cmd.Context(), posArgs[0], method, nil)
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
	cmd.Flags().BoolVar(&templates, "templates", false, "list resource templates instead of concrete resources")
	return cmd
}

func newResourcesReadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <session> <uri>",
		Short: "Read a resource's contents by URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			raw, err := a.callBridge(cmd.Context(), posArgs[0], "readResource", map[string]string{"uri": posArgs[1]})
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
}

func newResourcesSubscribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <session> <uri>",
		Short: "Subscribe to change notifications for a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			_, err := a.callBridge(cmd.Context(), posArgs[0], "subscribeResource", map[string]string{"uri": posArgs[1]})
			if err != nil {
				return err
			}
			return printResult(a, map[string]string{"status": "subscribed"})
		},
	}
}

func newResourcesUnsubscribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <session> <uri>",
		Short: "Cancel a resource change subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			_, err := a.callBridge(cmd.Context(), posArgs[0], "unsubscribeResource", map[string]string{"uri": posArgs[1]})
			if err != nil {
				return err
			}
			return printResult(a, map[string]string{"status": "unsubscribed"})
		},
	}
}
