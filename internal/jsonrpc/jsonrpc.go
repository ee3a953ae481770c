// Package jsonrpc defines the JSON-RPC 2.0 envelope shapes the MCP wire
// protocol uses, and a monotonic id allocator. This is hand-rolled rather
// than delegated to a third-party MCP SDK because the request/response
// correlation it supports is the subject of spec §4.5, not an incidental
// detail.
package jsonrpc

import (
	"encoding/json"
	"sync/atomic"
)

const Version = "2.0"

// ID is a JSON-RPC request id: always a number on the outbound side, but
// decoded loosely so servers using string ids still round-trip.
type ID struct {
	num    int64
	str    string
	isStr  bool
	isNull bool
}

func NewID(n int64) ID { return ID{num: n} }

func (i ID) MarshalJSON() ([]byte, error) {
	if i.isNull {
		return []byte("null"), nil
	}
	if i.isStr {
		return json.Marshal(i.str)
	}
	return json.Marshal(i.num)
}

func (i *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		i.isNull = true
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		i.num = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	i.str = s
	i.isStr = true
	return nil
}

func (i ID) String() string {
	if i.isStr {
		return i.str
	}
	return json.Number(itoa(i.num)).String()
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// Equal compares two ids for correlation purposes.
func (i ID) Equal(other ID) bool {
	return i.num == other.num && i.str == other.str && i.isStr == other.isStr
}

// Request is an outbound JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a request with no id: no response is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ErrorObject mirrors the JSON-RPC 2.0 error member, preserved verbatim
// per spec §7 ("MCP protocol errors... returned verbatim").
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is an inbound JSON-RPC response: either Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Frame is a loosely-typed inbound message used to sniff whether a raw
// payload is a response (has "id" and one of result/error) or a
// notification (has "method", no "id").
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// IsNotification reports whether the frame carries no id (a server-pushed
// notification rather than a response to one of our requests).
func (f Frame) IsNotification() bool {
	return f.ID == nil && f.Method != ""
}

// IDGenerator hands out monotonically increasing JSON-RPC ids, safe for
// concurrent use from multiple IPC callers funneling through one client core.
type IDGenerator struct {
	next atomic.Int64
}

// Next returns the next id, starting at 1.
func (g *IDGenerator) Next() ID {
	return NewID(g.next.Add(1))
}
