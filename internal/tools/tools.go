// Package tools defines the tool registry and the built-in tool
// handlers the dispatcher can route a message to.
//
// A handler declares its contract through a models.ToolSpec (required
// parameter names plus defaults) and executes through a uniform
// Execute method. The registry enforces the parameter contract before
// any handler runs, so handlers can assume required parameters are
// present and defaults are filled in.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/analystiq/analystiq/internal/models"
)

// Request carries an invocation's context into a handler.
type Request struct {
	ChatID int64
	UserID int64
	// Message is the original user message, available to handlers that
	// work from free text rather than extracted parameters.
	Message string
	// Parameters are the dispatcher-extracted parameters, with registry
	// defaults applied.
	Parameters map[string]string
}

// Handler executes one tool.
type Handler interface {
	// Spec declares the handler's name, description, required parameters,
	// and defaults.
	Spec() models.ToolSpec
	// Execute runs the tool. Failures are reported on the ToolResult,
	// never panicked; a handler must not crash the handling loop.
	Execute(ctx context.Context, req Request) models.ToolResult
}

// Registry holds the registered tool handlers. It has no mutable state
// after construction, so executions across conversations can run fully
// in parallel.
type Registry struct {
	handlers map[models.ToolName]Handler
}

// NewRegistry registers the given handlers. Registering two handlers
// with the same name is a programming error and panics at startup.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[models.ToolName]Handler, len(handlers))}
	for _, h := range handlers {
		name := h.Spec().Name
		if _, exists := r.handlers[name]; exists {
			panic(fmt.Sprintf("tools.NewRegistry: duplicate handler for %s", name))
		}
		r.handlers[name] = h
	}
	return r
}

// Catalog returns the registered tool specs in the canonical tool-name
// order, for embedding in the classification prompt.
func (r *Registry) Catalog() []models.ToolSpec {
	specs := make([]models.ToolSpec, 0, len(r.handlers))
	for _, name := range models.AllToolNames() {
		if h, ok := r.handlers[name]; ok {
			specs = append(specs, h.Spec())
		}
	}
	return specs
}

// Execute validates the decision's parameters against the handler's
// spec, applies defaults, and runs the handler.
func (r *Registry) Execute(ctx context.Context, decision models.DispatchDecision, req Request) models.ToolResult {
	handler, ok := r.handlers[decision.Tool]
	if !ok {
		slog.Error("Registry.Execute: no handler registered", "tool", decision.Tool)
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %s", models.ErrUnknownTool, decision.Tool),
			Text:    "Sorry, I don't know how to handle that request.",
		}
	}

	spec := handler.Spec()
	params := make(map[string]string, len(decision.Parameters)+len(spec.Defaults))
	for k, v := range spec.Defaults {
		params[k] = v
	}
	for k, v := range decision.Parameters {
		if v != "" {
			params[k] = v
		}
	}
	for _, name := range spec.Required {
		if params[name] == "" {
			slog.Warn("Registry.Execute: missing required parameter", "tool", decision.Tool, "parameter", name)
			return models.ToolResult{
				Success: false,
				Error:   fmt.Sprintf("%v: %s", models.ErrMissingParameter, name),
				Text:    fmt.Sprintf("I need a value for %q to do that. Could you rephrase with it included?", name),
			}
		}
	}

	req.Parameters = params
	return handler.Execute(ctx, req)
}
