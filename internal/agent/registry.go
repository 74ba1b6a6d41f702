package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Registry is an immutable per-request tool set. It is composed once from
// capability sets (static tools, integration tools, discovered tools) and
// passed explicitly into the loop; nothing mutates it after construction.
type Registry struct {
	order   []Tool
	byName  map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry composes capability sets into a registry. Later sets override
// earlier ones on name collision. Tool input schemas are compiled eagerly;
// a schema that fails to compile disables validation for that tool only.
func NewRegistry(sets ...[]Tool) *Registry {
	r := &Registry{
		byName:  make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, set := range sets {
		for _, tool := range set {
			if tool == nil || tool.Name() == "" {
				continue
			}
			if _, exists := r.byName[tool.Name()]; !exists {
				r.order = append(r.order, tool)
			}
			r.byName[tool.Name()] = tool
		}
	}
	for name, tool := range r.byName {
		if sch := compileSchema(name, tool.Schema()); sch != nil {
			r.schemas[name] = sch
		}
	}
	return r
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil
	}
	return sch
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// Tools returns the registered tools in composition order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, tool := range r.order {
		// A later set may have replaced the tool under this name.
		out = append(out, r.byName[tool.Name()])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.byName)
}

// Filter returns a new registry containing only the tools the predicate
// allows. The receiver is unchanged.
func (r *Registry) Filter(allowed func(name string) bool) *Registry {
	kept := make([]Tool, 0, len(r.order))
	for _, tool := range r.Tools() {
		if allowed(tool.Name()) {
			kept = append(kept, tool)
		}
	}
	return NewRegistry(kept)
}

// Validate checks tool input against the tool's compiled schema. A nil error
// means the call may be dispatched as-is.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	sch, ok := r.schemas[name]
	if !ok {
		return nil
	}
	var decoded any
	input := params
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}
	if err := sch.Validate(decoded); err != nil {
		return fmt.Errorf("tool input failed schema validation: %w", err)
	}
	return nil
}

// Execute runs a tool by name. A missing tool or execution failure is
// converted to an error result, not an error return; only the result shape
// itself can fail.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, ok := r.byName[name]
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}
	return tool.Execute(ctx, params)
}
