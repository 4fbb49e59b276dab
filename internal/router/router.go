// ABOUTME: Method router mapping protocol methods to capability handlers.
// ABOUTME: Validates params and wraps handler outcomes into envelopes.
package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"

	"pgmcp/internal/protocol"
	"pgmcp/internal/registry"
)

// Router dispatches one request to the fixed method set. It holds no
// state between calls beyond the immutable registry.
type Router struct {
	registry *registry.Registry
	log      *log.Logger
}

// New builds a router over the given capability registry.
func New(reg *registry.Registry, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{registry: reg, log: logger}
}

// callToolParams is the expected shape of tools/call params.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatch routes a request and returns its reply envelope. For
// notifications it returns nil: no reply is expected.
func (r *Router) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	r.log.Info("MCP request", "method", req.Method)

	if req.IsNotification() {
		// Notifications (notifications/initialized and friends) are
		// acknowledged implicitly.
		return nil
	}

	switch req.Method {
	case "initialize":
		// Unknown params are ignored, not rejected.
		return protocol.NewResponse(req.ID, protocol.DefaultInitializeResult())

	case "ping":
		return protocol.NewResponse(req.ID, map[string]any{})

	case "tools/list":
		return protocol.NewResponse(req.ID, map[string]any{
			"tools": r.registry.Descriptors(),
		})

	case "tools/call":
		return r.dispatchToolCall(ctx, req)

	case "resources/list":
		return protocol.NewResponse(req.ID, map[string]any{
			"resources": []any{},
		})

	case "prompts/list":
		return protocol.NewResponse(req.ID, map[string]any{
			"prompts": []any{},
		})

	default:
		return protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeMethodNotFound, "Method not found: %s", req.Method))
	}
}

func (r *Router) dispatchToolCall(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID,
				protocol.Errorf(protocol.CodeInvalidParams, "malformed tools/call params: %v", err))
		}
	}
	if params.Name == "" {
		return protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeInvalidParams, "tools/call requires a tool name"))
	}

	desc, handler, ok := r.registry.Lookup(params.Name)
	if !ok {
		return protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeMethodNotFound, "Unknown tool: %s", params.Name))
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := desc.InputSchema.Validate(args); err != nil {
		return protocol.NewErrorResponse(req.ID, asProtocolError(err))
	}

	r.log.Info("tool call", "tool", params.Name)

	value, err := handler(ctx, args)
	if err != nil {
		perr := asProtocolError(err)
		r.log.Error("tool failed", "tool", params.Name, "code", perr.Code, "err", perr.Message)
		return protocol.NewErrorResponse(req.ID, perr)
	}

	result, err := protocol.TextResult(value)
	if err != nil {
		return protocol.NewErrorResponse(req.ID,
			protocol.Errorf(protocol.CodeInternalError, "encode tool result: %v", err))
	}
	return protocol.NewResponse(req.ID, result)
}

// asProtocolError coerces any handler failure into an envelope error.
// Non-protocol errors become InternalError with the error's message
// but never a raw stack.
func asProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	return protocol.Errorf(protocol.CodeInternalError, "%v", err)
}
