// ABOUTME: Per-connection JSON-RPC state machine and method dispatch.
// ABOUTME: Negotiates protocol versions and routes requests to the capability registry.

package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/transit-gateway/internal/capability"
	"github.com/2389/transit-gateway/internal/rpc"
	"github.com/2389/transit-gateway/internal/session"
	"github.com/2389/transit-gateway/internal/store"
)

// SupportedProtocolVersions lists the protocol revisions this gateway
// accepts, oldest first. Initialize echoes whichever of these the
// client requested rather than advertising a fixed latest.
var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
}

// Config holds configuration for the router.
type Config struct {
	Registry      *capability.Registry
	Sessions      *session.Manager
	Usage         store.Recorder
	Logger        *slog.Logger
	ServerName    string
	ServerVersion string
}

// Router validates envelopes and dispatches them to the capability
// registry. It is shared by all connections; per-connection state
// lives in Conn.
type Router struct {
	registry      *capability.Registry
	sessions      *session.Manager
	usage         store.Recorder
	logger        *slog.Logger
	serverName    string
	serverVersion string
	supported     map[string]bool
}

// New creates a router. Registry and session manager are required.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	usage := cfg.Usage
	if usage == nil {
		usage = store.NopStore{}
	}
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = "transit-gateway"
	}
	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = "dev"
	}

	supported := make(map[string]bool, len(SupportedProtocolVersions))
	for _, v := range SupportedProtocolVersions {
		supported[v] = true
	}

	return &Router{
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		usage:         usage,
		logger:        logger.With("component", "router"),
		serverName:    serverName,
		serverVersion: serverVersion,
		supported:     supported,
	}, nil
}

// Sessions exposes the session manager to transports.
func (r *Router) Sessions() *session.Manager { return r.sessions }

// Registry exposes the capability registry to transports.
func (r *Router) Registry() *capability.Registry { return r.registry }

// State is the connection lifecycle position.
type State int

const (
	// StateAwaitingInit accepts exactly one initialize request.
	StateAwaitingInit State = iota
	// StateActive accepts any registered method.
	StateActive
	// StateClosed drops all further envelopes.
	StateClosed
)

// Conn binds the state machine to one logical connection. The legacy
// binding keeps one Conn for the life of its stream; the streamable
// binding reconstructs a Conn per submission from the session.
type Conn struct {
	state     State
	sess      *session.Session
	transport session.Transport
	router    *Router
}

// NewConn starts a fresh connection awaiting its handshake.
func (r *Router) NewConn(transport session.Transport) *Conn {
	return &Conn{state: StateAwaitingInit, transport: transport, router: r}
}

// BindConn attaches an existing session to a new Conn, resuming in
// the state the session's handshake progress implies.
func (r *Router) BindConn(sess *session.Session) *Conn {
	state := StateAwaitingInit
	if sess.Initialized() {
		state = StateActive
	}
	return &Conn{state: state, sess: sess, transport: sess.Transport, router: r}
}

// Session returns the connection's session, nil before handshake on
// the streamable binding.
func (c *Conn) Session() *session.Session { return c.sess }

// State returns the connection's lifecycle position.
func (c *Conn) State() State { return c.state }

// Close transitions to closed and releases the session. Safe to call
// more than once; the session manager's close is idempotent.
func (c *Conn) Close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if c.sess != nil {
		if c.router.sessions.Close(c.sess.ID) {
			c.recordSessionEvent("closed")
		}
	}
}

// Handle decodes and dispatches one raw frame. A nil return means no
// reply is owed (notification, or the connection is closed).
func (c *Conn) Handle(ctx context.Context, raw []byte) *rpc.Response {
	if c.state == StateClosed {
		return nil
	}

	req, errResp := rpc.Decode(raw)
	if errResp != nil {
		return errResp
	}
	return c.HandleRequest(ctx, req)
}

// HandleRequest dispatches one decoded request. Requests on the same
// session are serialized so responses keep request order even when
// the transport delivers submissions concurrently.
func (c *Conn) HandleRequest(ctx context.Context, req *rpc.Request) *rpc.Response {
	if c.state == StateClosed {
		return nil
	}

	if c.sess != nil {
		c.sess.LockDispatch()
		defer c.sess.UnlockDispatch()
		c.router.sessions.Touch(c.sess.ID)
	}

	if req.IsNotification() {
		c.handleNotification(req)
		return nil
	}

	c.router.logger.Debug("request",
		"method", req.Method,
		"session_id", c.sessionID(),
		"state", c.state,
	)

	if req.Method == "initialize" {
		return c.handleInitialize(req)
	}

	if c.state != StateActive {
		return rpc.NewError(req.ID, rpc.CodeInvalidRequest, "not initialized", nil)
	}

	switch req.Method {
	case "ping":
		return rpc.NewResult(req.ID, map[string]any{})
	case "tools/list":
		return c.handleToolsList(req)
	case "tools/call":
		return c.handleToolsCall(ctx, req)
	case "resources/list":
		return c.handleResourcesList(req)
	case "resources/read":
		return c.handleResourcesRead(ctx, req)
	case "prompts/list":
		return c.handlePromptsList(req)
	case "prompts/get":
		return c.handlePromptsGet(ctx, req)
	default:
		return rpc.NewError(req.ID, rpc.CodeMethodNotFound, "method not found", nil)
	}
}

// handleNotification acknowledges notifications without ever
// producing a reply; failures are logged and dropped.
func (c *Conn) handleNotification(req *rpc.Request) {
	switch req.Method {
	case "notifications/initialized":
		c.router.logger.Debug("client initialized", "session_id", c.sessionID())
	default:
		c.router.logger.Warn("unsupported notification dropped", "method", req.Method)
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (c *Conn) handleInitialize(req *rpc.Request) *rpc.Response {
	if c.state == StateActive {
		return rpc.NewError(req.ID, rpc.CodeInvalidRequest, "already initialized", nil)
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, rpc.CodeInvalidParams, "invalid params", nil)
		}
	}
	if params.ProtocolVersion == "" {
		return rpc.NewError(req.ID, rpc.CodeInvalidParams, "protocolVersion is required", nil)
	}

	if !c.router.supported[params.ProtocolVersion] {
		// stay in awaiting-init so the client may retry with a
		// version we do support
		return rpc.NewError(req.ID, rpc.CodeInvalidParams, "unsupported protocol version", map[string]any{
			"requested": params.ProtocolVersion,
			"supported": SupportedProtocolVersions,
		})
	}

	if c.sess == nil {
		c.sess = c.router.sessions.Create(c.transport, params.ProtocolVersion)
		c.recordSessionEvent("created")
	} else {
		c.router.sessions.SetProtocolVersion(c.sess.ID, params.ProtocolVersion)
	}
	c.state = StateActive

	c.router.logger.Info("session initialized",
		"session_id", c.sess.ID,
		"protocol_version", params.ProtocolVersion,
		"transport", c.transport,
		"client", params.ClientInfo.Name,
	)

	return rpc.NewResult(req.ID, map[string]any{
		// echo the negotiated version, not a fixed latest
		"protocolVersion": params.ProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    c.router.serverName,
			"version": c.router.serverVersion,
		},
	})
}

// toolInfo is the wire shape of one tools/list entry.
type toolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

func (c *Conn) handleToolsList(req *rpc.Request) *rpc.Response {
	tools := c.router.registry.ListTools()
	infos := make([]toolInfo, len(tools))
	for i, t := range tools {
		infos[i] = toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return rpc.NewResult(req.ID, map[string]any{"tools": infos})
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (c *Conn) handleToolsCall(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, rpc.CodeInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return rpc.NewError(req.ID, rpc.CodeInvalidParams, "tool name is required", nil)
	}

	start := time.Now()
	result, err := c.router.registry.CallTool(ctx, params.Name, params.Arguments)
	c.recordInvocation(ctx, params.Name, time.Since(start), err != nil || (result != nil && result.IsError))

	if err != nil {
		return c.faultResponse(req.ID, err)
	}
	return rpc.NewResult(req.ID, result)
}

// resourceInfo is the wire shape of one resources/list entry.
type resourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

func (c *Conn) handleResourcesList(req *rpc.Request) *rpc.Response {
	resources := c.router.registry.ListResources()
	infos := make([]resourceInfo, len(resources))
	for i, res := range resources {
		infos[i] = resourceInfo{URI: res.URI, Name: res.Name, Description: res.Description, MIMEType: res.MIMEType}
	}
	return rpc.NewResult(req.ID, map[string]any{"resources": infos})
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (c *Conn) handleResourcesRead(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params readResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, rpc.CodeInvalidParams, "invalid params", nil)
		}
	}
	if params.URI == "" {
		return rpc.NewError(req.ID, rpc.CodeInvalidParams, "resource uri is required", nil)
	}

	contents, err := c.router.registry.ReadResource(ctx, params.URI)
	if err != nil {
		return c.faultResponse(req.ID, err)
	}
	return rpc.NewResult(req.ID, map[string]any{
		"contents": []*capability.ResourceContents{contents},
	})
}

// promptInfo is the wire shape of one prompts/list entry.
type promptInfo struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Arguments   []capability.PromptArgument `json:"arguments,omitempty"`
}

func (c *Conn) handlePromptsList(req *rpc.Request) *rpc.Response {
	prompts := c.router.registry.ListPrompts()
	infos := make([]promptInfo, len(prompts))
	for i, p := range prompts {
		infos[i] = promptInfo{Name: p.Name, Description: p.Description, Arguments: p.Arguments}
	}
	return rpc.NewResult(req.ID, map[string]any{"prompts": infos})
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

func (c *Conn) handlePromptsGet(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params getPromptParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, rpc.CodeInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return rpc.NewError(req.ID, rpc.CodeInvalidParams, "prompt name is required", nil)
	}

	messages, err := c.router.registry.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return c.faultResponse(req.ID, err)
	}

	var description string
	for _, p := range c.router.registry.ListPrompts() {
		if p.Name == params.Name {
			description = p.Description
			break
		}
	}
	return rpc.NewResult(req.ID, map[string]any{
		"description": description,
		"messages":    messages,
	})
}

// faultResponse maps registry faults onto the wire error taxonomy.
// Handler failures keep their original message as diagnostic data but
// never carry it in the top-level message.
func (c *Conn) faultResponse(id json.RawMessage, err error) *rpc.Response {
	switch {
	case errors.Is(err, capability.ErrToolNotFound),
		errors.Is(err, capability.ErrResourceNotFound),
		errors.Is(err, capability.ErrPromptNotFound):
		return rpc.NewError(id, rpc.CodeMethodNotFound, "unknown capability", map[string]any{"detail": err.Error()})
	case errors.Is(err, capability.ErrInvalidArguments):
		return rpc.NewError(id, rpc.CodeInvalidParams, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return rpc.NewError(id, rpc.CodeInternalError, "execution timed out", nil)
	case errors.Is(err, context.Canceled):
		return rpc.NewError(id, rpc.CodeInternalError, "request cancelled", nil)
	default:
		c.router.logger.Warn("capability fault", "error", err, "session_id", c.sessionID())
		return rpc.NewError(id, rpc.CodeInternalError, "handler failed", err.Error())
	}
}

func (c *Conn) sessionID() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.ID
}

func (c *Conn) recordInvocation(ctx context.Context, tool string, d time.Duration, isError bool) {
	err := c.router.usage.RecordInvocation(ctx, &store.Invocation{
		SessionID: c.sessionID(),
		Tool:      tool,
		Duration:  d,
		IsError:   isError,
	})
	if err != nil {
		c.router.logger.Warn("failed to record invocation", "error", err)
	}
}

func (c *Conn) recordSessionEvent(event string) {
	err := c.router.usage.RecordSessionEvent(context.Background(), &store.SessionEvent{
		SessionID: c.sessionID(),
		Event:     event,
		Transport: string(c.transport),
	})
	if err != nil {
		c.router.logger.Warn("failed to record session event", "error", err)
	}
}
