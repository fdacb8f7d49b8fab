// Package mcp routes tool calls to MCP servers. The client transport itself
// lives outside this core; this package owns the dispatch contract: which
// tool names are served by which server, and the neutral result shape.
package mcp

import (
	"context"
	"fmt"

	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/pkg/models"
)

// Caller is one connected MCP server.
type Caller interface {
	// ListTools returns the server's tool specs.
	ListTools(ctx context.Context) ([]llm.ToolSpec, error)

	// CallTool executes one tool. The result is text and/or image parts.
	CallTool(ctx context.Context, name string, input map[string]any) ([]models.ToolResultContent, error)
}

// Router maps tool names to the server that advertises them. MCP tools take
// precedence over built-ins with the same name.
type Router struct {
	specs  []llm.ToolSpec
	byName map[string]Caller
}

// NewRouter builds a router over the given servers, collecting their tool
// catalogs. A later server's tool shadows an earlier one's on name clash.
func NewRouter(ctx context.Context, callers ...Caller) (*Router, error) {
	router := &Router{byName: map[string]Caller{}}
	for _, caller := range callers {
		specs, err := caller.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		for _, spec := range specs {
			if _, seen := router.byName[spec.Name]; !seen {
				router.specs = append(router.specs, spec)
			}
			router.byName[spec.Name] = caller
		}
	}
	return router, nil
}

// Specs returns every advertised tool spec.
func (r *Router) Specs() []llm.ToolSpec {
	return r.specs
}

// Serves reports whether the named tool belongs to an MCP server.
func (r *Router) Serves(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Dispatch calls the named tool on its server.
func (r *Router) Dispatch(ctx context.Context, name string, input map[string]any) ([]models.ToolResultContent, error) {
	caller, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("mcp: no server for tool %s", name)
	}
	return caller.CallTool(ctx, name, input)
}
