package mcp

import "encoding/json"

// Tool is an MCP tool definition.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// TextContent is an MCP text content block.
type TextContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"` // string or number
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

// Service error codes
const (
	SymbolNotFound   = -32001 // symbol not in the price snapshot
	DataUnavailable  = -32002 // prices or rates needed for the answer are unknown
	ValidationFailed = -32003
	TimeoutExceeded  = -32004
)

// Methods accepted on the MCP endpoint.
const (
	MethodCallTool      = "call_tool"
	MethodToolsCall     = "tools/call"
	MethodToolsList     = "tools/list"
	MethodListTools     = "list_tools"
)

// CallToolParams are the params of a call_tool request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolResult is the result of call_tool.
type CallToolResult struct {
	Content []TextContent `json:"content"`
}
