// ABOUTME: Immutable-after-startup registry of tools, resources, and prompts.
// ABOUTME: Validates arguments before dispatch and contains handler failures.

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrFrozen indicates registration was attempted after startup completed.
var ErrFrozen = errors.New("registry is frozen")

// ErrDuplicate indicates a descriptor with the same key is already registered.
var ErrDuplicate = errors.New("duplicate capability")

// ErrToolNotFound indicates the named tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrResourceNotFound indicates no resource matches the URI.
var ErrResourceNotFound = errors.New("resource not found")

// ErrPromptNotFound indicates the named prompt is not registered.
var ErrPromptNotFound = errors.New("prompt not found")

// ErrInvalidArguments indicates the supplied arguments failed schema
// or argument-spec validation. The handler is never invoked.
var ErrInvalidArguments = errors.New("invalid arguments")

// ErrHandlerFailed indicates the externally supplied handler returned
// an error or panicked. The original message is preserved in the wrap.
var ErrHandlerFailed = errors.New("handler failed")

// Registry holds capability descriptors. It is populated during
// startup and frozen before the gateway accepts connections, after
// which concurrent reads need no synchronization beyond the freeze
// happens-before.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	logger *slog.Logger

	tools         map[string]*Tool
	toolOrder     []string
	resources     map[string]*Resource
	resourceOrder []string
	prompts       map[string]*Prompt
	promptOrder   []string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger.With("component", "capability"),
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
		prompts:   make(map[string]*Prompt),
	}
}

// Freeze marks startup registration as complete. Registration calls
// after Freeze fail with ErrFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	r.logger.Info("capability registry frozen",
		"tools", len(r.toolOrder),
		"resources", len(r.resourceOrder),
		"prompts", len(r.promptOrder),
	)
}

// RegisterTool adds a tool descriptor. The input schema is resolved
// eagerly so malformed schemas fail at startup, not at call time.
func (r *Registry) RegisterTool(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return errors.New("tool requires a name and a handler")
	}
	if t.InputSchema != nil {
		resolved, err := t.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolving schema for tool %q: %w", t.Name, err)
		}
		t.resolved = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: tool %q", ErrDuplicate, t.Name)
	}
	r.tools[t.Name] = t
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// RegisterResource adds a resource descriptor keyed by URI.
func (r *Registry) RegisterResource(res *Resource) error {
	if res.URI == "" || res.Reader == nil {
		return errors.New("resource requires a URI and a reader")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("%w: resource %q", ErrDuplicate, res.URI)
	}
	r.resources[res.URI] = res
	r.resourceOrder = append(r.resourceOrder, res.URI)
	return nil
}

// RegisterPrompt adds a prompt descriptor.
func (r *Registry) RegisterPrompt(p *Prompt) error {
	if p.Name == "" || p.Renderer == nil {
		return errors.New("prompt requires a name and a renderer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.prompts[p.Name]; exists {
		return fmt.Errorf("%w: prompt %q", ErrDuplicate, p.Name)
	}
	r.prompts[p.Name] = p
	r.promptOrder = append(r.promptOrder, p.Name)
	return nil
}

// ListTools returns all tools in registration order.
func (r *Registry) ListTools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// ListResources returns all resources in registration order.
func (r *Registry) ListResources() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// ListPrompts returns all prompts in registration order.
func (r *Registry) ListPrompts() []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		out = append(out, r.prompts[name])
	}
	return out
}

// CallTool validates args against the tool's schema and invokes its
// handler. Schema violations return ErrInvalidArguments without
// calling the handler; handler errors and panics are converted to
// ErrHandlerFailed and never propagate.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (result *ToolResult, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	if t.resolved != nil {
		if args == nil {
			args = map[string]any{}
		}
		if verr := t.resolved.Validate(args); verr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, verr)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", p)
			result = nil
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, p)
		}
	}()

	result, herr := t.Handler(ctx, args)
	if herr != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerFailed, herr)
	}
	return result, nil
}

// ReadResource invokes the reader for the resource at uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) (contents *ResourceContents, err error) {
	r.mu.RLock()
	res, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrResourceNotFound, uri)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resource reader panicked", "uri", uri, "panic", p)
			contents = nil
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, p)
		}
	}()

	contents, rerr := res.Reader(ctx)
	if rerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerFailed, rerr)
	}
	return contents, nil
}

// GetPrompt renders the named prompt. Required arguments are checked
// against the prompt's argument spec before the renderer runs.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (messages []PromptMessage, err error) {
	r.mu.RLock()
	p, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPromptNotFound, name)
	}

	for _, arg := range p.Arguments {
		if arg.Required {
			if _, present := args[arg.Name]; !present {
				return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, arg.Name)
			}
		}
	}

	defer func() {
		if pv := recover(); pv != nil {
			r.logger.Error("prompt renderer panicked", "prompt", name, "panic", pv)
			messages = nil
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, pv)
		}
	}()

	messages, perr := p.Renderer(ctx, args)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerFailed, perr)
	}
	return messages, nil
}
