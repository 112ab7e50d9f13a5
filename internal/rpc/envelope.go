// ABOUTME: JSON-RPC 2.0 envelope types shared by both transport bindings.
// ABOUTME: Defines request/response/error shapes and the fixed error code taxonomy.

package rpc

import (
	"encoding/json"
)

// Version is the protocol tag carried by every envelope.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request or notification.
// A missing or null ID marks the message as a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID and
// therefore must never receive a reply.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response represents a JSON-RPC 2.0 response. Exactly one of
// Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes. TransportFault has no code on
// purpose: connection-level failures are never serialized to clients.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NewResult builds a successful response for the given request ID.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response for the given request ID. A nil
// id is serialized as null, which is what clients expect when the
// request ID itself could not be parsed.
func NewError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// Decode parses a raw frame into a Request. It distinguishes frames
// that are not JSON at all (ParseError) from frames that decode but
// carry the wrong protocol tag (InvalidRequest); in both cases the
// returned Response is ready to send and the Request is nil.
func Decode(data []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "invalid JSON", nil)
	}
	if req.JSONRPC != Version {
		return nil, NewError(req.ID, CodeInvalidRequest, "invalid JSON-RPC version", nil)
	}
	if req.Method == "" {
		return nil, NewError(req.ID, CodeInvalidRequest, "missing method", nil)
	}
	return &req, nil
}
