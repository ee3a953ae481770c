package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol revision this client declares during
// the initialize handshake. The server's reply may negotiate a different
// (typically older) value, which is then used on subsequent requests.
const ProtocolVersion = "2025-06-18"

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      clientInfoWire  `json:"clientInfo"`
}

type clientInfoWire struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      clientInfoWire  `json:"serverInfo"`
	Instructions    string          `json:"instructions"`
}

// Initialize performs the MCP initialize handshake: declares client
// capabilities, records the server's announced identity and negotiated
// protocol version, then sends the `initialized` notification (spec §4.5).
func (c *Client) Initialize(ctx context.Context, capabilities json.RawMessage) (ServerInfo, error) {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities,
		ClientInfo:      clientInfoWire{Name: c.clientInfo.Name, Version: c.clientInfo.Version},
	}

	raw, err := c.call(ctx, "initialize", params)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("initialize handshake: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ServerInfo{}, fmt.Errorf("parsing initialize result: %w", err)
	}

	negotiated := result.ProtocolVersion
	if negotiated == "" {
		negotiated = ProtocolVersion
	}
	c.transport.SetProtocolVersion(negotiated)

	info := ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: negotiated,
		Instructions:    result.Instructions,
		Capabilities:    result.Capabilities,
	}

	c.mu.Lock()
	c.server = info
	c.mu.Unlock()

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		return info, fmt.Errorf("sending initialized notification: %w", err)
	}

	return info, nil
}
