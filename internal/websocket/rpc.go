package websocket

import "encoding/json"

// JSON-RPC 2.0 framing for the websocket protocol. Requests flow client
// to server; server-initiated traffic is all notifications.

const rpcVersion = "2.0"

// JSON-RPC error codes. The -32xxx range is reserved by the spec; our
// application errors start at -32000.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602

	codeSubscriptionLimit = -32000
	codeUnauthorized      = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func marshalResult(id json.RawMessage, result any) []byte {
	raw, _ := json.Marshal(rpcResponse{JSONRPC: rpcVersion, ID: id, Result: result})
	return raw
}

func marshalError(id json.RawMessage, code int, message string) []byte {
	raw, _ := json.Marshal(rpcResponse{
		JSONRPC: rpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
	return raw
}

func marshalNotification(method string, params any) []byte {
	raw, _ := json.Marshal(rpcNotification{JSONRPC: rpcVersion, Method: method, Params: params})
	return raw
}
