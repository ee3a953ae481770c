package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newToolsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call tools exposed by a session's upstream server",
	}
	cmd.AddCommand(newToolsListCommand(a), newToolsCallCommand(a))
	return cmd
}

func newToolsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session>",
		Short: "List the tools the session's upstream server exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			raw, err := a.callBridge(cmd.Context(), posArgs[0], "listTools", nil)
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
}

func newToolsCallCommand(a *app) *cobra.Command {
	var argumentsJSON string

	cmd := &cobra.Command{
		Use:   "call <session> <tool>",
		Short: "Invoke a tool by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			var rawArgs json.RawMessage
			if argumentsJSON != "" {
				rawArgs = json.RawMessage(argumentsJSON)
			}
			raw, err := a.callBridge(cmd.Context(), posArgs[0], "callTool", map[string]any{
				"name":      posArgs[1],
				"arguments": rawArgs,
			})
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
	cmd.Flags().StringVar(&argumentsJSON, "arguments", "", "tool arguments as a JSON object")
	return cmd
}

func printRaw(a *app, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`null`)
	}
	if a.jsonOutput {
		fmt.Println(string(raw))
		return nil
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err == nil {
		return printResult(a, pretty)
	}
	var prettyList []any
	if err := json.Unmarshal(raw, &prettyList); err == nil {
		return printResult(a, prettyList)
	}
	fmt.Println(string(raw))
	return nil
}
