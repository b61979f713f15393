package tool

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Factory builds a fresh tool instance
type Factory func() Tool

// Registry is an explicit table of tool factories. Agent kinds resolve their
// toolkit through it; unknown names are logged and dropped rather than
// failing the run.
type Registry struct {
	factories map[string]Factory
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory under the given name, replacing any previous one
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Get builds the named tool
func (r *Registry) Get(name string) (Tool, bool) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names lists every registered tool name
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Resolve maps names to tool instances. Unresolvable names are warned about
// and dropped; the surviving tools keep the requested order.
func (r *Registry) Resolve(names []string) []Tool {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			r.logger.Warn().Str("tool", name).Msg("Unknown tool name, dropping")
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// ValidateArgs checks tool-call arguments against the tool's parameter
// schema. An empty schema accepts anything.
func ValidateArgs(t Tool, args map[string]any) error {
	schema := t.Schema()
	if len(schema) == 0 || string(schema) == "{}" {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	docLoader := gojsonschema.NewBytesLoader(argsJSON)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msg := "invalid arguments:"
		for _, desc := range result.Errors() {
			msg += " " + desc.String() + ";"
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
