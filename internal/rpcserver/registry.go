package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// Handler executes one tool call against a resolved workspace and raw JSON
// arguments, returning the tool's payload (shaped by the caller into
// {result,error?,metadata} before being JSON-encoded) or a ToolError that
// the dispatcher folds into that same payload shape; tool errors never
// become a protocol-level RPCError.
type Handler func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, *cerrors.ToolError)

// ToolEntry is one registered tool's metadata plus its handler. Tools
// register as plain functions rather than one interface implementation
// per tool: with 16 tools sharing the same parse -> route ->
// freshness-gate -> execute -> shape pipeline, a function table avoids 16
// near-identical struct/method boilerplates for no behavioral difference.
type ToolEntry struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler

	// StatusTool marks index_repo/sync_repo/index_status/health_check,
	// which must remain routable even while a workspace is still
	// bootstrapping.
	StatusTool bool
}

// Registry holds the 16 registered tool entries in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolEntry
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolEntry)}
}

func (r *Registry) Register(e ToolEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[e.Name]; exists {
		panic(fmt.Sprintf("tool %q already registered", e.Name))
	}
	entry := e
	r.tools[e.Name] = &entry
	r.order = append(r.order, e.Name)
}

func (r *Registry) Get(name string) *ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return defs
}
