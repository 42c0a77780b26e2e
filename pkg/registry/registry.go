package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Parameter describes a single tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool defines a named capability: its metadata, argument schema, and handler.
// The handler is the only side-effecting entry point.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is the outcome of a single tool invocation. Failures are data:
// dispatch converts every internal error into a Result with Success=false.
type Result struct {
	Success   bool   `json:"success"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Descriptor is the wire shape of a tool definition sent to the model.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

const (
	// DefaultTimeout bounds a single tool invocation unless the handler
	// finishes or self-cancels earlier.
	DefaultTimeout = 60 * time.Second

	maxOutputBytes = 10 * 1024
)

// Registry holds the de-duplicated set of tools available to one agent
// instance. It is assembled at startup and read-only during a run, so
// concurrent dispatches share it safely.
type Registry struct {
	tools   map[string]*Tool
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. A name collision is a configuration error and fails
// immediately rather than surfacing mid-run.
func (r *Registry) Register(tool Tool) error {
	if err := validateTool(tool); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(tool)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}

	r.tools[tool.Name] = &tool
	r.schemas[tool.Name] = schema

	log.Debug().Str("tool", tool.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Descriptors returns the wire descriptors for every tool, name-sorted so the
// model sees a stable listing across steps.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchema(tool),
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	return descriptors
}

// Dispatch resolves a tool by name and invokes it with the given arguments.
// Unknown tools, schema violations, handler errors, panics, and timeouts all
// come back as failed Results so the caller can feed them to the model.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("tool", name).Msg("Tool not found")
		return Result{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", name),
		}
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(schema, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Argument validation failed")
		return Result{
			Success: false,
			Error:   fmt.Sprintf("argument validation failed: %v", err),
		}
	}

	applyDefaults(tool, args)

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	log.Debug().Str("tool", name).Msg("Dispatching tool")

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(start)
		if out.err != nil {
			log.Warn().
				Str("tool", name).
				Dur("duration", duration).
				Err(out.err).
				Msg("Tool execution failed")
			return Result{Success: false, Error: out.err.Error()}
		}

		content, truncated := renderOutput(out.value)
		log.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return Result{Success: true, Content: content, Truncated: truncated}

	case <-timeoutCtx.Done():
		log.Warn().
			Str("tool", name).
			Dur("duration", time.Since(start)).
			Msg("Tool execution timed out")
		return Result{
			Success: false,
			Error:   fmt.Sprintf("tool execution timed out after %v", DefaultTimeout),
		}
	}
}

func validateTool(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range tool.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func inputSchema(tool *Tool) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range tool.Parameters {
		propSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			propSchema["default"] = param.Default
		}
		properties[param.Name] = propSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func compileSchema(tool Tool) (*gojsonschema.Schema, error) {
	schemaMap := inputSchema(&tool)

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, verr := range result.Errors() {
			errs = append(errs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

func applyDefaults(tool *Tool, args map[string]interface{}) {
	for _, param := range tool.Parameters {
		if param.Default == nil {
			continue
		}
		if _, present := args[param.Name]; !present {
			args[param.Name] = param.Default
		}
	}
}

func renderOutput(value interface{}) (string, bool) {
	var content string

	switch v := value.(type) {
	case nil:
		content = ""
	case string:
		content = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			content = fmt.Sprintf("%v", v)
		} else {
			content = string(data)
		}
	}

	if len(content) <= maxOutputBytes {
		return content, false
	}

	log.Warn().
		Int("original", len(content)).
		Int("limit", maxOutputBytes).
		Msg("Tool output truncated")

	return content[:maxOutputBytes] + "\n... [output truncated]", true
}
