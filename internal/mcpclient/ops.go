package mcpclient

import (
	"context"
	"encoding/json"
)

// Page is one page of a cursor-paginated list call (spec §4.5: each list
// operation accepts an optional cursor; aggregation across pages is the
// bridge's job, not the client core's).
type Page struct {
	Items      json.RawMessage `json:"-"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type cursorParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// Ping sends the MCP ping operation and waits for the (empty) result.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

type toolsListResult struct {
	Tools      json.RawMessage `json:"tools"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// ListTools fetches one page of the tools list.
func (c *Client) ListTools(ctx context.Context, cursor string) (Page, error) {
	raw, err := c.call(ctx, "tools/list", cursorParams{Cursor: cursor})
	if err != nil {
		return Page{}, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, err
	}
	return Page{Items: result.Tools, NextCursor: result.NextCursor}, nil
}

type resourcesListResult struct {
	Resources  json.RawMessage `json:"resources"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// ListResources fetches one page of the resources list.
func (c *Client) ListResources(ctx context.Context, cursor string) (Page, error) {
	raw, err := c.call(ctx, "resources/list", cursorParams{Cursor: cursor})
	if err != nil {
		return Page{}, err
	}
	var result resourcesListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, err
	}
	return Page{Items: result.Resources, NextCursor: result.NextCursor}, nil
}

type resourceTemplatesListResult struct {
	ResourceTemplates json.RawMessage `json:"resourceTemplates"`
	NextCursor        string          `json:"nextCursor,omitempty"`
}

// ListResourceTemplates fetches one page of the resource-templates list.
func (c *Client) ListResourceTemplates(ctx context.Context, cursor string) (Page, error) {
	raw, err := c.call(ctx, "resources/templates/list", cursorParams{Cursor: cursor})
	if err != nil {
		return Page{}, err
	}
	var result resourceTemplatesListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, err
	}
	return Page{Items: result.ResourceTemplates, NextCursor: result.NextCursor}, nil
}

type promptsListResult struct {
	Prompts    json.RawMessage `json:"prompts"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// ListPrompts fetches one page of the prompts list.
func (c *Client) ListPrompts(ctx context.Context, cursor string) (Page, error) {
	raw, err := c.call(ctx, "prompts/list", cursorParams{Cursor: cursor})
	if err != nil {
		return Page{}, err
	}
	var result promptsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, err
	}
	return Page{Items: result.Prompts, NextCursor: result.NextCursor}, nil
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallTool invokes a tool and returns its raw result payload.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
}

type readResourceParams struct {
	URI string `json:"uri"`
}

// ReadResource fetches a resource's contents by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.call(ctx, "resources/read", readResourceParams{URI: uri})
}

type resourceURIParams struct {
	URI string `json:"uri"`
}

// SubscribeResource asks the server to notify on changes to uri.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	_, err := c.call(ctx, "resources/subscribe", resourceURIParams{URI: uri})
	return err
}

// UnsubscribeResource cancels a prior subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	_, err := c.call(ctx, "resources/unsubscribe", resourceURIParams{URI: uri})
	return err
}

type getPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// GetPrompt resolves a named prompt template with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "prompts/get", getPromptParams{Name: name, Arguments: arguments})
}

type setLoggingLevelParams struct {
	Level string `json:"level"`
}

// SetLoggingLevel adjusts the server's logging verbosity.
func (c *Client) SetLoggingLevel(ctx context.Context, level string) error {
	_, err := c.call(ctx, "logging/setLevel", setLoggingLevelParams{Level: level})
	return err
}
