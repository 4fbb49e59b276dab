// ABOUTME: Tests for envelope types and wire serialization.
// ABOUTME: Covers id echo, notification detection, and error shapes.
package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestUnmarshal(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantMethod     string
		wantNotify     bool
		wantParamsJSON string
	}{
		{
			name:       "string id",
			raw:        `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`,
			wantMethod: "tools/list",
		},
		{
			name:       "numeric id",
			raw:        `{"jsonrpc":"2.0","id":7,"method":"initialize","params":{}}`,
			wantMethod: "initialize",
		},
		{
			name:       "notification has no id",
			raw:        `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			wantMethod: "notifications/initialized",
			wantNotify: true,
		},
		{
			name:           "params kept raw",
			raw:            `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"postgres_query"}}`,
			wantMethod:     "tools/call",
			wantParamsJSON: `{"name":"postgres_query"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.raw), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", req.Method, tt.wantMethod)
			}
			if req.IsNotification() != tt.wantNotify {
				t.Errorf("IsNotification() = %v, want %v", req.IsNotification(), tt.wantNotify)
			}
			if tt.wantParamsJSON != "" && string(req.Params) != tt.wantParamsJSON {
				t.Errorf("params = %s, want %s", req.Params, tt.wantParamsJSON)
			}
		})
	}
}

func TestResponseIDEcho(t *testing.T) {
	ids := []any{"req-1", float64(42), nil}
	for _, id := range ids {
		resp := NewResponse(id, map[string]any{"ok": true})
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["id"] != id {
			t.Errorf("id = %v, want %v", decoded["id"], id)
		}
		if decoded["jsonrpc"] != "2.0" {
			t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
		}
	}
}

func TestErrorResponseShape(t *testing.T) {
	resp := NewErrorResponse(3, Errorf(CodeMethodNotFound, "Method not found: %s", "bogus"))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Result any `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Result != nil {
		t.Error("error response must not carry a result")
	}
	if decoded.Error == nil {
		t.Fatal("expected error object")
	}
	if decoded.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", decoded.Error.Code, CodeMethodNotFound)
	}
	if !strings.Contains(decoded.Error.Message, "bogus") {
		t.Errorf("message %q should name the method", decoded.Error.Message)
	}
}

func TestErrorImplementsError(t *testing.T) {
	var err error = Errorf(CodeInvalidParams, "missing %s", "query")
	if !strings.Contains(err.Error(), "missing query") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTextResult(t *testing.T) {
	res, err := TextResult(map[string]any{"success": true, "row_count": 2})
	if err != nil {
		t.Fatalf("TextResult: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	if res.Content[0].Type != "text" {
		t.Errorf("type = %q, want text", res.Content[0].Type)
	}

	var tree map[string]any
	if err := json.Unmarshal([]byte(res.Content[0].Text), &tree); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	if tree["success"] != true {
		t.Errorf("tree = %v", tree)
	}
}

func TestDefaultInitializeResult(t *testing.T) {
	res := DefaultInitializeResult()
	if res.ProtocolVersion != Version {
		t.Errorf("protocolVersion = %q", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != ServerName {
		t.Errorf("serverInfo.name = %q", res.ServerInfo.Name)
	}

	data, _ := json.Marshal(res)
	for _, key := range []string{`"tools":{}`, `"resources":{}`, `"prompts":{}`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("capabilities missing %s in %s", key, data)
		}
	}
}
