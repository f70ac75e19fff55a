// Package tools holds the functions the language model may call while
// answering a question.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/askdoc/internal/types"
)

// Func computes a tool result from its decoded JSON arguments.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is one callable function together with the signature advertised to
// the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
	Call        Func
}

// Registry maps tool names to tools. It is safe for concurrent use and is
// normally populated once at start-up.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Call == nil {
		return fmt.Errorf("%w: tool needs a name and a function", types.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: tool %q already registered", types.ErrInvalidArgument, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Definitions returns the tool signatures in the form the model expects,
// sorted by name.
func (r *Registry) Definitions() []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llms.Tool, 0, len(r.tools))
	for _, name := range r.namesLocked() {
		t := r.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named tool with the JSON-encoded arguments produced by the
// model. Every failure wraps types.ErrToolExecution.
func (r *Registry) Call(ctx context.Context, name, arguments string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w %q", types.ErrUnknownTool, name)
	}
	if arguments == "" {
		arguments = "{}"
	}
	if !json.Valid([]byte(arguments)) {
		return "", fmt.Errorf("%w: %s: arguments are not valid JSON", types.ErrToolExecution, name)
	}

	return t.Call(ctx, json.RawMessage(arguments))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
