// Package tools defines the tools available to the agent and the
// registry that validates and executes them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"unicode/utf8"
)

// DisplayLimit is the number of characters of a tool result shown in
// transcripts and logs.
const DisplayLimit = 500

// Handler runs a tool with validated, normalized arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler

	validator *validator
}

// Result is the outcome of one tool execution. Output is always set and
// is what the model and the user see; Err carries the typed failure for
// callers that branch on it.
type Result struct {
	ToolName  string
	Output    string
	Truncated bool
	Err       error
}

// Display returns Output capped at [DisplayLimit] characters, with "..."
// appended when shortened.
func (r Result) Display() string {
	return truncate(r.Output, DisplayLimit)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. It fails if the name is taken or the parameter
// declaration does not compile to a valid schema.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %s already registered", t.Name)
	}

	v, err := newValidator(t.Params)
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}
	t.validator = v

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the tools in Ollama's function-calling format.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, t := range r.Tools() {
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema(),
			},
		})
	}
	return defs
}

// Execute validates args against the tool's parameters and runs it.
// Failures of any kind, including panics in the handler, are reported
// in the Result as "ERROR: ..." text; Execute itself never fails.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	res := Result{ToolName: name}

	t := r.tools[name]
	if t == nil {
		res.Err = &UnknownToolError{Name: name, Available: r.Names()}
	} else if bound, err := t.validator.bind(name, args); err != nil {
		res.Err = err
	} else {
		res.Output, res.Err = r.run(ctx, t, bound)
	}
	return r.finish(res)
}

// Reject reports a call whose arguments could not be decoded at all.
// The result reads like any other argument failure, or an unknown tool
// when name is not registered.
func (r *Registry) Reject(name string, cause error) Result {
	res := Result{ToolName: name}
	if r.tools[name] == nil {
		res.Err = &UnknownToolError{Name: name, Available: r.Names()}
	} else {
		res.Err = &ArgumentError{Tool: name, Problems: []string{cause.Error()}}
	}
	return r.finish(res)
}

func (r *Registry) finish(res Result) Result {
	name := res.ToolName
	if res.Err != nil {
		res.Output = "ERROR: " + res.Err.Error()
		r.logger.Warn("tool failed", "tool", name, "error", res.Err)
	} else {
		r.logger.Debug("tool executed", "tool", name, "output_len", len(res.Output))
	}
	res.Truncated = utf8.RuneCountInString(res.Output) > DisplayLimit
	return res
}

func (r *Registry) run(ctx context.Context, t *Tool, args map[string]any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", t.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error in %s: %v", t.Name, p)
		}
	}()
	return t.Handler(ctx, args)
}

// truncate caps s at n characters, appending "..." when shortened.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
