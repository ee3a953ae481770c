package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpctl/mcpctl/internal/listcache"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

// mcpMethods are dispatch entries that place an upstream MCP call; each
// gets the per-call deadline from Config.CallTimeout (spec §5). IPC-local
// methods (shutdown, restart, getServerVersion, ...) don't touch the
// upstream transport and are exempt.
var mcpMethods = map[string]bool{
	"ping": true, "listTools": true, "listResources": true,
	"listResourceTemplates": true, "listPrompts": true, "callTool": true,
	"readResource": true, "subscribeResource": true, "unsubscribeResource": true,
	"getPrompt": true, "setLoggingLevel": true,
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type resourceURIParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type setLoggingLevelParams struct {
	Level string `json:"level"`
}

func (d *Daemon) buildDispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping":                   d.handlePing,
		"listTools":              d.handleListTools,
		"listResources":          d.handleListResources,
		"listResourceTemplates":  d.handleListResourceTemplates,
		"listPrompts":            d.handleListPrompts,
		"callTool":               d.handleCallTool,
		"readResource":           d.handleReadResource,
		"subscribeResource":      d.handleSubscribeResource,
		"unsubscribeResource":    d.handleUnsubscribeResource,
		"getPrompt":              d.handleGetPrompt,
		"setLoggingLevel":        d.handleSetLoggingLevel,
		"getServerCapabilities":  d.handleGetServerCapabilities,
		"getServerVersion":       d.handleGetServerVersion,
		"getInstructions":        d.handleGetInstructions,
		"getProtocolVersion":     d.handleGetProtocolVersion,
		"shutdown":               d.handleShutdown,
		"restart":                d.handleRestart,
	}
}

// Dispatch exposes the bridge's IPC method surface to an in-process caller,
// satisfying proxyserver.Dispatcher: the embedded proxy server (spec §4.9)
// forwards onto this instead of opening a loopback IPC connection to itself.
func (d *Daemon) Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return d.dispatch(ctx, method, params)
}

func (d *Daemon) dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	handler, ok := d.handlers[method]
	if !ok {
		return nil, mcperrors.New(mcperrors.KindClient, fmt.Sprintf("unrecognized bridge method %q", method))
	}
	if mcpMethods[method] {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}
	return handler(ctx, params)
}

func (d *Daemon) handlePing(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	if err := d.client.Ping(ctx); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (d *Daemon) handleListTools(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return d.aggregateList(ctx, listcache.KindTools, func(cursor string) (json.RawMessage, string, error) {
		page, err := d.client.ListTools(ctx, cursor)
		return page.Items, page.NextCursor, err
	})
}

func (d *Daemon) handleListResources(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return d.aggregateList(ctx, listcache.KindResources, func(cursor string) (json.RawMessage, string, error) {
		page, err := d.client.ListResources(ctx, cursor)
		return page.Items, page.NextCursor, err
	})
}

func (d *Daemon) handleListResourceTemplates(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return d.aggregateList(ctx, listcache.KindResourceTemplates, func(cursor string) (json.RawMessage, string, error) {
		page, err := d.client.ListResourceTemplates(ctx, cursor)
		return page.Items, page.NextCursor, err
	})
}

func (d *Daemon) handleListPrompts(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return d.aggregateList(ctx, listcache.KindPrompts, func(cursor string) (json.RawMessage, string, error) {
		page, err := d.client.ListPrompts(ctx, cursor)
		return page.Items, page.NextCursor, err
	})
}

// aggregateList consults the cache first; on miss it pages through cursors
// until exhausted, concatenates every page's items into one JSON array, and
// stores that aggregate back in the cache (spec §4.6/§4.7).
func (d *Daemon) aggregateList(ctx context.Context, kind listcache.Kind, fetchPage func(cursor string) (json.RawMessage, string, error)) (json.RawMessage, error) {
	if cached, ok := d.cache.Get(kind); ok {
		return cached, nil
	}

	var all []json.RawMessage
	cursor := ""
	for {
		items, next, err := fetchPage(cursor)
		if err != nil {
			return nil, err
		}
		var page []json.RawMessage
		if len(items) > 0 {
			if err := json.Unmarshal(items, &page); err != nil {
				return nil, fmt.Errorf("parsing %s page: %w", kind, err)
			}
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	aggregate, err := json.Marshal(all)
	if err != nil {
		return nil, err
	}
	d.cache.Set(kind, aggregate)
	return aggregate, nil
}

func (d *Daemon) handleCallTool(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p callToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding callTool params")
	}
	return d.client.CallTool(ctx, p.Name, p.Arguments)
}

func (d *Daemon) handleReadResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p readResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding readResource params")
	}
	return d.client.ReadResource(ctx, p.URI)
}

func (d *Daemon) handleSubscribeResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p resourceURIParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding subscribeResource params")
	}
	if err := d.client.SubscribeResource(ctx, p.URI); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (d *Daemon) handleUnsubscribeResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p resourceURIParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding unsubscribeResource params")
	}
	if err := d.client.UnsubscribeResource(ctx, p.URI); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (d *Daemon) handleGetPrompt(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p getPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding getPrompt params")
	}
	return d.client.GetPrompt(ctx, p.Name, p.Arguments)
}

func (d *Daemon) handleSetLoggingLevel(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p setLoggingLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindClient, err, "decoding setLoggingLevel params")
	}
	if err := d.client.SetLoggingLevel(ctx, p.Level); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (d *Daemon) handleGetServerCapabilities(context.Context, json.RawMessage) (json.RawMessage, error) {
	info := d.client.ServerInfo()
	if len(info.Capabilities) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return info.Capabilities, nil
}

func (d *Daemon) handleGetServerVersion(context.Context, json.RawMessage) (json.RawMessage, error) {
	info := d.client.ServerInfo()
	return json.Marshal(map[string]string{"name": info.Name, "version": info.Version})
}

func (d *Daemon) handleGetInstructions(context.Context, json.RawMessage) (json.RawMessage, error) {
	info := d.client.ServerInfo()
	return json.Marshal(map[string]string{"instructions": info.Instructions})
}

func (d *Daemon) handleGetProtocolVersion(context.Context, json.RawMessage) (json.RawMessage, error) {
	info := d.client.ServerInfo()
	return json.Marshal(map[string]string{"protocolVersion": info.ProtocolVersion})
}

func (d *Daemon) handleShutdown(context.Context, json.RawMessage) (json.RawMessage, error) {
	d.triggerShutdown()
	return json.RawMessage(`{}`), nil
}

// handleRestart is equivalent to shutdown from the bridge's own point of
// view: the CLI's Bridge Manager is responsible for spawning the
// replacement process once this one has exited (spec §4.8).
func (d *Daemon) handleRestart(context.Context, json.RawMessage) (json.RawMessage, error) {
	d.triggerShutdown()
	return json.RawMessage(`{}`), nil
}
