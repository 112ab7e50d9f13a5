// ABOUTME: Descriptor types for the three capability kinds: tools, resources, prompts.
// ABOUTME: Handlers are externally supplied callables the gateway treats as opaque.

package capability

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Content is a tagged content block. Type is "text" for plain text
// blocks; other types carry their payload in Data.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

// TextContent builds a plain text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ToolResult is what a tool handler produces. StructuredContent is
// optional machine-readable output alongside the content blocks.
// IsError marks a domain-level failure the client should surface; it
// is distinct from protocol errors, which never reach this type.
type ToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// TextResult wraps plain text in a successful tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{TextContent(text)}}
}

// ErrorResult wraps a domain-level failure message for the client.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{TextContent(text)}, IsError: true}
}

// ToolHandler executes a tool with already-validated arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (*ToolResult, error)

// Tool describes a callable action.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     ToolHandler

	resolved *jsonschema.Resolved
}

// ResourceContents is the payload of a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// ResourceReader produces the current contents of a resource.
type ResourceReader func(ctx context.Context) (*ResourceContents, error)

// Resource describes a read-only data source addressed by URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Reader      ResourceReader
}

// PromptArgument describes one argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one rendered message of a prompt template.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptRenderer renders a prompt template with the given arguments.
type PromptRenderer func(ctx context.Context, args map[string]string) ([]PromptMessage, error)

// Prompt describes an interaction template.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
	Renderer    PromptRenderer
}
