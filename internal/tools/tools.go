// Package tools defines the built-in tool catalog and its invocation
// contract: named handlers with JSON-schema-validated inputs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/remoteswe/worker/internal/config"
	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/pkg/models"
)

// Invocation is the per-call context handed to every tool handler.
type Invocation struct {
	ToolUseID   string
	WorkerID    string
	Preferences *config.Preferences
}

// Result is a tool outcome: plain text, structured content parts, or both.
type Result struct {
	Text    string
	Content []models.ToolResultContent
}

// TextResult wraps a plain string outcome.
func TextResult(text string) *Result {
	return &Result{Text: text}
}

// Blocks renders the result as toolResult content parts.
func (r *Result) Blocks() []models.ToolResultContent {
	if len(r.Content) > 0 {
		return r.Content
	}
	return []models.ToolResultContent{{Text: &models.TextBlock{Text: r.Text}}}
}

// Tool is one built-in tool.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, input map[string]any, inv Invocation) (*Result, error)
}

// InvalidInputError reports a schema validation failure. The loop converts
// it to a textual toolResult instead of aborting.
type InvalidInputError struct {
	ToolName string
	Err      error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %v", e.ToolName, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the built-in catalog. Schemas are compiled at registration
// so malformed tool definitions fail at startup, not mid-turn.
type Registry struct {
	tools map[string]registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]registered{}}
}

// Register adds a tool, compiling its input schema.
func (r *Registry) Register(tool Tool) error {
	raw, err := json.Marshal(tool.Schema())
	if err != nil {
		return fmt.Errorf("tools: marshal schema for %s: %w", tool.Name(), err)
	}
	compiled, err := jsonschema.CompileString(tool.Name()+".json", string(raw))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", tool.Name(), err)
	}
	r.tools[tool.Name()] = registered{tool: tool, schema: compiled}
	return nil
}

// MustRegister registers or panics; for the static built-in catalog.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Lookup returns the tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	entry, ok := r.tools[name]
	return entry.tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates the input against the tool's schema and runs the
// handler. Validation failures come back as InvalidInputError.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, inv Invocation) (*Result, error) {
	entry, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %s", name)
	}
	// Round-trip through JSON so numbers and nested values have the types
	// the validator expects.
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, &InvalidInputError{ToolName: name, Err: err}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &InvalidInputError{ToolName: name, Err: err}
	}
	if err := entry.schema.Validate(value); err != nil {
		return nil, &InvalidInputError{ToolName: name, Err: err}
	}
	return entry.tool.Execute(ctx, input, inv)
}

// Specs renders tool specs for the given names, in the given order. Unknown
// names are skipped.
func (r *Registry) Specs(names []string) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		entry, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        entry.tool.Name(),
			Description: entry.tool.Description(),
			InputSchema: entry.tool.Schema(),
		})
	}
	return specs
}
