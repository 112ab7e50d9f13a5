// ABOUTME: Tests for the connection state machine and method dispatch.
// ABOUTME: Drives raw JSON frames through Conn.Handle and checks wire responses.

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/transit-gateway/internal/capability"
	"github.com/2389/transit-gateway/internal/rpc"
	"github.com/2389/transit-gateway/internal/session"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry(nil)

	err := reg.RegisterTool(&capability.Tool{
		Name:        "echo",
		Description: "Echoes its input back",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*capability.ToolResult, error) {
			text, _ := args["text"].(string)
			if text == "boom" {
				return nil, errors.New("echo exploded")
			}
			return capability.TextResult(text), nil
		},
	})
	if err != nil {
		t.Fatalf("registering tool: %v", err)
	}

	err = reg.RegisterResource(&capability.Resource{
		URI:      "guide://test",
		Name:     "Test Guide",
		MIMEType: "text/markdown",
		Reader: func(ctx context.Context) (*capability.ResourceContents, error) {
			return &capability.ResourceContents{
				URI:      "guide://test",
				MIMEType: "text/markdown",
				Text:     "# Guide",
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("registering resource: %v", err)
	}

	err = reg.RegisterPrompt(&capability.Prompt{
		Name:        "greet",
		Description: "Greets a rider",
		Arguments: []capability.PromptArgument{
			{Name: "who", Required: true},
		},
		Renderer: func(ctx context.Context, args map[string]string) ([]capability.PromptMessage, error) {
			return []capability.PromptMessage{
				{Role: "user", Content: capability.TextContent("hello " + args["who"])},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("registering prompt: %v", err)
	}

	reg.Freeze()
	return reg
}

func testRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(Config{
		Registry:      testRegistry(t),
		Sessions:      session.NewManager(nil),
		ServerName:    "test-gateway",
		ServerVersion: "0.0.1",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

// initialized returns an active conn that has completed the handshake.
func initialized(t *testing.T, r *Router) *Conn {
	t.Helper()
	conn := r.NewConn(session.TransportStreamable)
	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test"}}}`,
	))
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
	return conn
}

// resultMap round-trips a response result through JSON so tests can
// inspect it without depending on internal wire struct types.
func resultMap(t *testing.T, resp *rpc.Response) map[string]any {
	t.Helper()
	if resp == nil {
		t.Fatal("nil response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshaling result: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	return m
}

func TestInitializeEchoesRequestedVersion(t *testing.T) {
	r := testRouter(t)

	for _, version := range SupportedProtocolVersions {
		conn := r.NewConn(session.TransportStreamable)
		frame := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q}}`, version)
		result := resultMap(t, conn.Handle(context.Background(), []byte(frame)))

		if result["protocolVersion"] != version {
			t.Errorf("protocolVersion = %v, want %v", result["protocolVersion"], version)
		}
		serverInfo, _ := result["serverInfo"].(map[string]any)
		if serverInfo["name"] != "test-gateway" {
			t.Errorf("serverInfo.name = %v", serverInfo["name"])
		}
		if conn.State() != StateActive {
			t.Errorf("state after initialize = %v, want active", conn.State())
		}
		if conn.Session() == nil || conn.Session().ProtocolVersion != version {
			t.Error("session not created with negotiated version")
		}
	}
}

func TestInitializeUnsupportedVersion(t *testing.T) {
	r := testRouter(t)
	conn := r.NewConn(session.TransportStreamable)

	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`,
	))
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp)
	}
	if conn.State() != StateAwaitingInit {
		t.Error("unsupported version must not advance the state machine")
	}
	if conn.Session() != nil {
		t.Error("no session should exist before a successful handshake")
	}

	// the client may retry with a version we do support
	retry := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
	))
	if retry.Error != nil {
		t.Fatalf("retry after unsupported version failed: %+v", retry.Error)
	}
	if conn.State() != StateActive {
		t.Error("retry should activate the connection")
	}
}

func TestInitializeTwice(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`,
	))
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("second initialize = %+v, want invalid request", resp)
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	r := testRouter(t)
	conn := r.NewConn(session.TransportStreamable)

	resp := conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("pre-handshake request = %+v, want invalid request", resp)
	}
}

func TestNotificationsProduceNoReply(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	frames := []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/unknown"}`,
	}
	for _, frame := range frames {
		if resp := conn.Handle(context.Background(), []byte(frame)); resp != nil {
			t.Errorf("notification %s produced reply %+v", frame, resp)
		}
	}
}

func TestMalformedFrames(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	cases := []struct {
		name     string
		frame    string
		wantCode int
	}{
		{"not json", `{invalid`, rpc.CodeParseError},
		{"wrong version tag", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, rpc.CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, rpc.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := conn.Handle(context.Background(), []byte(tc.frame))
			if resp == nil || resp.Error == nil || resp.Error.Code != tc.wantCode {
				t.Errorf("got %+v, want code %d", resp, tc.wantCode)
			}
		})
	}
}

func TestPing(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	result := resultMap(t, conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	if len(result) != 0 {
		t.Errorf("ping result = %v, want empty object", result)
	}
}

func TestToolsList(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	result := resultMap(t, conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	tools, _ := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v, want one entry", tools)
	}
	tool, _ := tools[0].(map[string]any)
	if tool["name"] != "echo" {
		t.Errorf("tool name = %v", tool["name"])
	}
	if tool["inputSchema"] == nil {
		t.Error("inputSchema missing from tools/list entry")
	}
}

func TestToolsCall(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	t.Run("success", func(t *testing.T) {
		result := resultMap(t, conn.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
		)))
		content, _ := result["content"].([]any)
		if len(content) != 1 {
			t.Fatalf("content = %v", content)
		}
		first, _ := content[0].(map[string]any)
		if first["text"] != "hi" {
			t.Errorf("content text = %v", first["text"])
		}
	})

	t.Run("unknown tool is method not found", func(t *testing.T) {
		resp := conn.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
		))
		if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
			t.Errorf("got %+v, want method not found", resp)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		resp := conn.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{"text":42}}}`,
		))
		if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
			t.Errorf("got %+v, want invalid params", resp)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		resp := conn.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"arguments":{}}}`,
		))
		if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
			t.Errorf("got %+v, want invalid params", resp)
		}
	})

	t.Run("handler failure", func(t *testing.T) {
		resp := conn.Handle(context.Background(), []byte(
			`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"boom"}}}`,
		))
		if resp.Error == nil || resp.Error.Code != rpc.CodeInternalError {
			t.Errorf("got %+v, want internal error", resp)
		}
	})
}

func TestResources(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	result := resultMap(t, conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`)))
	resources, _ := result["resources"].([]any)
	if len(resources) != 1 {
		t.Fatalf("resources = %v", resources)
	}

	read := resultMap(t, conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"guide://test"}}`,
	)))
	contents, _ := read["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %v", contents)
	}
	entry, _ := contents[0].(map[string]any)
	if entry["text"] != "# Guide" {
		t.Errorf("resource text = %v", entry["text"])
	}

	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"guide://missing"}}`,
	))
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("unknown resource = %+v, want method not found", resp)
	}
}

func TestPrompts(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	result := resultMap(t, conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"greet","arguments":{"who":"alex"}}}`,
	)))
	messages, _ := result["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages = %v", messages)
	}

	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"greet"}}`,
	))
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
		t.Errorf("missing required argument = %+v, want invalid params", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)

	resp := conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"no/such"}`))
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("got %+v, want method not found", resp)
	}
}

func TestClosedConnDropsFrames(t *testing.T) {
	r := testRouter(t)
	conn := initialized(t, r)
	sessID := conn.Session().ID

	conn.Close()
	conn.Close() // idempotent

	if _, ok := r.Sessions().Get(sessID); ok {
		t.Error("session should be removed on close")
	}
	if resp := conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); resp != nil {
		t.Errorf("closed conn replied: %+v", resp)
	}
}

func TestBindConn(t *testing.T) {
	r := testRouter(t)

	// pre-handshake legacy session resumes awaiting the handshake
	pending := r.Sessions().Create(session.TransportLegacy, "")
	if conn := r.BindConn(pending); conn.State() != StateAwaitingInit {
		t.Errorf("uninitialized session bound to state %v", conn.State())
	}

	active := r.Sessions().Create(session.TransportStreamable, "2025-06-18")
	conn := r.BindConn(active)
	if conn.State() != StateActive {
		t.Fatalf("initialized session bound to state %v", conn.State())
	}
	if resp := conn.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); resp.Error != nil {
		t.Errorf("ping on resumed conn failed: %+v", resp.Error)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	r := testRouter(t)

	const sessions = 8
	const callsPerSession = 20

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := r.NewConn(session.TransportStreamable)
			init := conn.Handle(context.Background(), []byte(
				`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`,
			))
			if init == nil || init.Error != nil {
				t.Errorf("initialize failed: %+v", init)
				return
			}
			for id := 2; id < 2+callsPerSession; id++ {
				frame := fmt.Sprintf(
					`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"echo","arguments":{"text":"t"}}}`, id)
				resp := conn.Handle(context.Background(), []byte(frame))
				if resp == nil || resp.Error != nil {
					t.Errorf("call failed: %+v", resp)
					return
				}
				// each reply carries its own request id
				if string(resp.ID) != fmt.Sprintf("%d", id) {
					t.Errorf("reply id = %s, want %d", resp.ID, id)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := r.Sessions().Count(); got != sessions {
		t.Errorf("session count = %d, want %d", got, sessions)
	}
}

func TestLegacyInitializeFillsPreBoundSession(t *testing.T) {
	r := testRouter(t)
	pending := r.Sessions().Create(session.TransportLegacy, "")
	conn := r.BindConn(pending)

	resp := conn.Handle(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`,
	))
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}

	got, ok := r.Sessions().Get(pending.ID)
	if !ok || got.ProtocolVersion != "2025-03-26" {
		t.Error("pre-bound session should carry the negotiated version")
	}
}
