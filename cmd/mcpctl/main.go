package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

func main() {
	os.Exit(run())
}

func run() int {
	a, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	root := newRootCommand(a)
	if err := root.Execute(); err != nil {
		return reportError(a, err)
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpctl",
		Short:         "Command-line client for the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit machine-readable JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "include a stack trace with errors")

	root.AddCommand(
		newConnectCommand(a),
		newCloseCommand(a),
		newRestartCommand(a),
		newSessionsCommand(a),
		newToolsCommand(a),
		newResourcesCommand(a),
		newPromptsCommand(a),
		newOAuthCommand(a),
		newBridgeServeCommand(a),
	)
	return root
}

// reportError implements spec §7's user-visible behavior: JSON mode emits
// {error:{code,message}} to stdout, human mode prints to stderr with an
// optional --verbose stack, and the process exits with the taxonomy's
// mapped status code.
func reportError(a *app, err error) int {
	var mcpErr *mcperrors.Error
	kind := mcperrors.KindOf(err)
	mcperrors.As(err, &mcpErr)

	if a.jsonOutput {
		payload := map[string]any{
			"error": map[string]any{
				"code":    kind.ExitCode(),
				"message": err.Error(),
			},
		}
		data, encErr := json.Marshal(payload)
		if encErr == nil {
			fmt.Println(string(data))
		}
	} else {
		fmt.Fprintln(os.Stderr, err)
		if a.verbose && mcpErr != nil {
			if stack := mcpErr.Stack(); stack != "" {
				fmt.Fprint(os.Stderr, stack)
			}
		}
	}
	return kind.ExitCode()
}

func printResult(a *app, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
