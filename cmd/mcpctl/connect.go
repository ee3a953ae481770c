package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/registry"
)

func newConnectCommand(a *app) *cobra.Command {
	var (
		url         string
		command     string
		args        []string
		env         []string
		headers     []string
		timeoutMs   int64
		profile     string
		proxyHost   string
		proxyPort   int
		proxyBearer string
	)

	cmd := &cobra.Command{
		Use:   "connect <name>",
		Short: "Register a session and ensure its bridge is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			name := posArgs[0]
			ctx := cmd.Context()

			if (url == "") == (command == "") {
				return mcperrors.New(mcperrors.KindClient, "exactly one of --url or --command must be set")
			}

			rec := registry.Session{
				Name:        name,
				ProfileName: profile,
				Status:      registry.StatusLive,
			}

			if url != "" {
				rec.Transport = registry.Transport{
					Kind:      registry.TransportHTTP,
					URL:       url,
					TimeoutMs: timeoutMs,
				}
				if len(headers) > 0 {
					parsed, err := parseHeaders(headers)
					if err != nil {
						return err
					}
					if err := a.secrets.SetSessionHeaders(name, parsed); err != nil {
						return fmt.Errorf("storing session headers: %w", err)
					}
					rec.Transport.HeadersRedacted = true
				}
			} else {
				rec.Transport = registry.Transport{
					Kind:    registry.TransportStdio,
					Command: command,
					Args:    args,
					Env:     env,
				}
			}

			if proxyPort != 0 {
				if proxyHost == "" {
					proxyHost = "127.0.0.1"
				}
				rec.ProxyConfig = &registry.ProxyConfig{Host: proxyHost, Port: proxyPort}
				if proxyBearer != "" {
					if err := a.secrets.SetProxyBearer(name, proxyBearer); err != nil {
						return fmt.Errorf("storing proxy bearer: %w", err)
					}
				}
			}

			if err := a.registry.Save(ctx, rec); err != nil {
				return fmt.Errorf("saving session record: %w", err)
			}

			healthy, err := a.manager.EnsureBridgeHealthy(ctx, name)
			if err != nil {
				return err
			}
			return printResult(a, healthy)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "HTTP+SSE server URL")
	cmd.Flags().StringVar(&command, "command", "", "stdio child process command")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "stdio child process argument (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "stdio child process env var KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "HTTP header KEY=VALUE (repeatable, stored in the keychain only)")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "per-call timeout override in milliseconds")
	cmd.Flags().StringVar(&profile, "profile", "", "OAuth profile name to authenticate HTTP requests with")
	cmd.Flags().StringVar(&proxyHost, "proxy-host", "", "bind host for the embedded proxy server")
	cmd.Flags().IntVar(&proxyPort, "proxy-port", 0, "bind port for the embedded proxy server; 0 disables it")
	cmd.Flags().StringVar(&proxyBearer, "proxy-bearer", "", "bearer token required of proxy callers")

	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return nil, mcperrors.New(mcperrors.KindClient, fmt.Sprintf("invalid --header %q; expected KEY=VALUE", h))
		}
		out[k] = v
	}
	return out, nil
}
