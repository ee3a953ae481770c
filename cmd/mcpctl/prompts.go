package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newPromptsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List and resolve prompt templates exposed by a session",
	}
	cmd.AddCommand(newPromptsListCommand(a), newPromptsGetCommand(a))
	return cmd
}

func newPromptsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session>",
		Short: "List the prompt templates the session exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			raw, err := a.callBridge(cmd.Context(), posArgs[0], "listPrompts", nil)
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
}

func newPromptsGetCommand(a *app) *cobra.Command {
	var argumentsJSON string

	cmd := &cobra.Command{
		Use:   "get <session> <prompt>",
		Short: "Resolve a prompt template with arguments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			var rawArgs json.RawMessage
			if argumentsJSON != "" {
				rawArgs = json.RawMessage(argumentsJSON)
			}
			raw, err := a.callBridge(cmd.Context(), posArgs[0], "getPrompt", map[string]any{
				"name":      posArgs[1],
				"arguments": rawArgs,
			})
			if err != nil {
				return err
			}
			return printRaw(a, raw)
		},
	}
	cmd.Flags().StringVar(&argumentsJSON, "arguments", "", "prompt arguments as a JSON object")
	return cmd
}
