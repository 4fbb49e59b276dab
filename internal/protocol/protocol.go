// ABOUTME: JSON-RPC 2.0 envelope types and MCP error codes.
// ABOUTME: Defines the wire contract shared by both transports.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Protocol and server identity constants.
const (
	Version       = "2024-11-05"
	ServerName    = "PostgreSQL MCP Server"
	ServerVersion = "1.0.0"
	JSONRPC       = "2.0"
)

// JSON-RPC error codes. The first five are defined by the JSON-RPC 2.0
// spec; the -320xx codes are server-defined, matching the range MCP
// reserves for protocol-level errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodePoolExhausted  = -32001
	CodeNotFound       = -32002
)

// Request is one inbound envelope. ID is opaque and echoed verbatim;
// a missing ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and
// therefore expects no reply.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is one outbound envelope. Exactly one of Result and Error
// is set.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is the envelope error object. It implements error so handler
// failures can cross package boundaries and still serialize cleanly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResponse builds a success envelope echoing the given id.
func NewResponse(id, result any) *Response {
	return &Response{JSONRPC: JSONRPC, ID: id, Result: result}
}

// NewErrorResponse builds a failure envelope echoing the given id.
func NewErrorResponse(id any, err *Error) *Response {
	return &Response{JSONRPC: JSONRPC, ID: id, Error: err}
}

// MCP result shapes.

// ServerInfo identifies the server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities declares which capability groups the server
// serves. Empty objects mean "declared but unpopulated".
type ServerCapabilities struct {
	Tools     map[string]any `json:"tools"`
	Resources map[string]any `json:"resources"`
	Prompts   map[string]any `json:"prompts"`
}

// InitializeResult is the initialize method's result payload.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the tools/call result payload.
type CallToolResult struct {
	Content []Content `json:"content"`
}

// TextResult wraps a handler's value tree into a single text content
// block, serialized as indented JSON.
func TextResult(v any) (*CallToolResult, error) {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: string(text)}},
	}, nil
}

// DefaultInitializeResult returns the static handshake payload.
func DefaultInitializeResult() InitializeResult {
	return InitializeResult{
		ProtocolVersion: Version,
		Capabilities: ServerCapabilities{
			Tools:     map[string]any{},
			Resources: map[string]any{},
			Prompts:   map[string]any{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}
}
