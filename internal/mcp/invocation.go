package mcp

import (
	"context"
	"encoding/json"

	"pricedash/internal/models"
)

// ToolInvoker validates tool arguments and dispatches to the executor.
type ToolInvoker struct {
	executor   *ToolExecutor
	validators map[string]*SchemaValidator
	tools      []Tool
}

// NewToolInvoker compiles the argument schema of every tool.
func NewToolInvoker(executor *ToolExecutor, quote string) (*ToolInvoker, error) {
	tools := Tools(quote)
	validators := make(map[string]*SchemaValidator, len(tools))
	for _, tool := range tools {
		v, err := NewSchemaValidator(tool.InputSchema)
		if err != nil {
			return nil, err
		}
		validators[tool.Name] = v
	}

	return &ToolInvoker{
		executor:   executor,
		validators: validators,
		tools:      tools,
	}, nil
}

// Tools lists the tools the invoker serves.
func (ti *ToolInvoker) Tools() []Tool {
	return ti.tools
}

// InvokeTool validates args and runs the named tool.
func (ti *ToolInvoker) InvokeTool(ctx context.Context, toolName string, args map[string]any) (*CallToolResult, error) {
	validator, ok := ti.validators[toolName]
	if !ok {
		return nil, &RPCError{
			Code:    MethodNotFound,
			Message: "Unknown tool",
			Data:    toolName,
		}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validator.Validate(args); err != nil {
		return nil, ErrorFromValidation(err)
	}

	switch toolName {
	case ToolGetPrice:
		symbol, _ := args["symbol"].(string)
		return ti.executor.ExecuteGetPrice(ctx, symbol)

	case ToolGetPortfolioValuation:
		req, err := decodeValuationArgs(args)
		if err != nil {
			return nil, err
		}
		return ti.executor.ExecuteGetPortfolioValuation(ctx, req.Positions, req.Currency)
	}

	return nil, &RPCError{Code: MethodNotFound, Message: "Unknown tool", Data: toolName}
}

// ValuationRequest is the body of a valuation call.
type ValuationRequest struct {
	Positions []models.WalletPosition `json:"positions"`
	Currency  string                  `json:"currency"`
}

// decodeValuationArgs converts schema-checked arguments to a ValuationRequest.
func decodeValuationArgs(args map[string]any) (*ValuationRequest, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid arguments", Data: err.Error()}
	}

	var req ValuationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid arguments", Data: err.Error()}
	}
	if err := models.ValidatePositions(req.Positions); err != nil {
		return nil, &RPCError{
			Code:    ValidationFailed,
			Message: "Parameter validation failed",
			Data:    map[string]any{"field": "/positions", "message": err.Error()},
		}
	}
	return &req, nil
}
