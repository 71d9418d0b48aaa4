// protocol.go — JSON-RPC 2.0 envelope types for the aslan-browser transport.
// Adapted from the teacher's internal/mcp/protocol.go: an MCP tool-call
// envelope becomes a plain JSON-RPC 2.0 request/response/notification triple
// (spec §4.1, §6.2), with batch support (spec §4.8) replacing MCP's tools/call
// dispatch.
package jsonrpc

import (
	"bytes"
	"encoding/json"
)

const Version = "2.0"

// Request represents one incoming JSON-RPC 2.0 request or notification.
// A notification is a Request with no id (HasID() == false).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	idPresent       bool
	idExplicitNull  bool
	idInvalidFormat bool
}

// UnmarshalJSON captures whether id was present, explicitly null, or of an
// id type JSON-RPC disallows (array/object), so HasID/HasInvalidID can answer
// precisely instead of conflating "absent" with "null".
func (r *Request) UnmarshalJSON(data []byte) error {
	type rawRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}

	r.JSONRPC = raw.JSONRPC
	r.Method = raw.Method
	r.Params = raw.Params
	r.ID = nil
	r.idExplicitNull = false
	r.idInvalidFormat = false

	rawID, ok := object["id"]
	r.idPresent = ok
	if !ok {
		return nil
	}

	trimmedID := bytes.TrimSpace(rawID)
	if bytes.Equal(trimmedID, []byte("null")) {
		r.idExplicitNull = true
		return nil
	}

	var parsedID any
	if err := json.Unmarshal(trimmedID, &parsedID); err != nil {
		return err
	}
	switch parsedID.(type) {
	case string, float64:
		r.ID = parsedID
	default:
		r.idInvalidFormat = true
	}
	return nil
}

// HasID reports whether the request expects a response (spec §4.1: "Requests
// without id are one-way; no response is emitted").
func (r Request) HasID() bool {
	return r.idPresent && !r.idExplicitNull && r.ID != nil
}

// HasInvalidID reports an explicitly null or malformed id on a request that
// otherwise looks like it wants a response.
func (r Request) HasInvalidID() bool {
	return r.idExplicitNull || r.idInvalidFormat
}

// Response is one outgoing JSON-RPC 2.0 response: exactly one of Result or
// Error is set (spec §4.1).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server-originated, unsolicited message: event.navigation,
// event.console, event.error (spec §6.2). It carries no id and expects no
// response.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResult builds a success Response for the given request id.
func NewResult(id any, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error Response for the given request id.
func NewError(id any, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// NewNotification builds a server-originated notification envelope.
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// BatchRequest is the params shape of the "batch" method (spec §4.8).
type BatchRequest struct {
	Requests []SubRequest `json:"requests"`
}

// SubRequest is one element of a batch request: a method/params pair with no
// independent id — results are correlated by position, not id (spec §4.8).
type SubRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// BatchResponse is the result shape of the "batch" method.
type BatchResponse struct {
	Responses []SubResponse `json:"responses"`
}

// SubResponse is one element of a batch response: either Result or Error is set.
type SubResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}
