package mcp

import (
	"encoding/json"
	"io"
)

// maxRequestBytes caps a JSON-RPC request body.
const maxRequestBytes = 1 << 20

// ParseJSONRPCRequest decodes a JSON-RPC 2.0 request and checks its envelope.
func ParseJSONRPCRequest(r io.Reader) (*JSONRPCRequest, error) {
	var req JSONRPCRequest
	if err := json.NewDecoder(io.LimitReader(r, maxRequestBytes)).Decode(&req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Invalid JSON", Data: err.Error()}
	}

	switch {
	case req.JSONRPC != "2.0":
		return nil, &RPCError{Code: InvalidRequest, Message: "jsonrpc must be \"2.0\"", Data: req.JSONRPC}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "method is required"}
	}
	return &req, nil
}

// ParseCallToolParams decodes tools/call params; a tool name is required.
func ParseCallToolParams(params json.RawMessage) (*CallToolParams, error) {
	if len(params) == 0 {
		return nil, &RPCError{Code: InvalidParams, Message: "params are required for tools/call"}
	}

	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid tools/call params", Data: err.Error()}
	}
	if p.Name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "params.name is required"}
	}
	return &p, nil
}

// NewJSONRPCError builds an error response for request id.
func NewJSONRPCError(id any, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// NewJSONRPCResult builds a success response for request id.
func NewJSONRPCResult(id any, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// ErrorFromValidation converts a schema violation to a ValidationFailed error whose data
// names the offending field.
func ErrorFromValidation(err error) *RPCError {
	rpcErr := &RPCError{Code: ValidationFailed, Message: "Parameter validation failed"}
	if ve, ok := err.(*ValidationError); ok {
		rpcErr.Data = map[string]any{"field": ve.Field, "message": ve.Message}
	} else {
		rpcErr.Data = map[string]any{"message": err.Error()}
	}
	return rpcErr
}
