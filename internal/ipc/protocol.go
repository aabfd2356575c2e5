// Package ipc implements the IPC server (C8): a newline-delimited
// JSON-RPC 2.0 service over a Unix domain socket, the only way a client
// ever talks to the daemon.
package ipc

import "encoding/json"

// MaxFrameSize is the hard cap on one request line, per the framing rule
// in §4.6: oversize frames are rejected and the connection is closed.
const MaxFrameSize = 1 << 20 // 1 MiB

// Request is one JSON-RPC 2.0 request object. Params must be an object or
// absent; arrays are rejected by the dispatcher, not by this type.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 response object. Exactly one of Result or
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. Data never carries secret
// material — only service/account/kind and, for HttpStatus-family
// errors, a truncated body excerpt.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification object: no id, so a client
// can distinguish it from a response to one of its own requests.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func newResponse(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newErrorResponse(id json.RawMessage, rpcErr RPCError) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &rpcErr}
}
