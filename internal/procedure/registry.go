package procedure

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gantry/pkg/domainerrors"
)

// Procedure is a registered definition with its compiled input schema.
type Procedure struct {
	Definition
	schema *jsonschema.Schema
}

// ValidateInput checks raw input against the procedure's schema and decodes
// it. Empty input is treated as an empty object.
func (p *Procedure) ValidateInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "input is not valid JSON")
	}
	if err := p.schema.Validate(decoded); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeBadRequest, "input rejected by schema")
	}

	input, ok := decoded.(map[string]any)
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "input must be a JSON object")
	}
	return input, nil
}

// Registry holds the process's procedures. Registration happens at startup;
// lookups afterwards are read-only.
type Registry struct {
	logger *slog.Logger
	defs   map[string]*Procedure
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, defs: make(map[string]*Procedure)}
}

// Register validates and compiles a definition. Duplicate names and invalid
// schemas fail registration; a mutation without a required permission is a
// lint-level warning only, to avoid over-constraining internal procedures.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("procedure name is required")
	}
	if def.Kind != KindQuery && def.Kind != KindMutation {
		return fmt.Errorf("procedure %s: invalid kind %q", def.Name, def.Kind)
	}
	if def.EntityType == "" {
		return fmt.Errorf("procedure %s: entity type is required", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("procedure %s: handler is required", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("procedure %s: already registered", def.Name)
	}
	if def.Kind == KindQuery && len(def.InvalidationTags) > 0 {
		return fmt.Errorf("procedure %s: invalidation tags are mutation-only", def.Name)
	}
	if def.Kind == KindMutation && def.Cache != nil {
		return fmt.Errorf("procedure %s: cache policies are query-only", def.Name)
	}

	schemaDoc := def.InputSchema
	if schemaDoc == "" {
		schemaDoc = `{"type":"object"}`
	}
	compiler := jsonschema.NewCompiler()
	resource := def.Name + ".schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("procedure %s: invalid input schema: %w", def.Name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("procedure %s: compile input schema: %w", def.Name, err)
	}

	if def.Kind == KindMutation && def.RequiredPermission == "" {
		r.logger.Warn("mutation registered without a required permission",
			"procedure", def.Name,
		)
	}

	r.defs[def.Name] = &Procedure{Definition: def, schema: schema}
	return nil
}

// Lookup returns a registered procedure by name.
func (r *Registry) Lookup(name string) (*Procedure, bool) {
	p, ok := r.defs[name]
	return p, ok
}

// EntityTypes returns the distinct entity types across registered mutations,
// used to bootstrap event topics.
func (r *Registry) EntityTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.defs {
		if p.Kind != KindMutation {
			continue
		}
		if _, ok := seen[p.EntityType]; ok {
			continue
		}
		seen[p.EntityType] = struct{}{}
		out = append(out, p.EntityType)
	}
	return out
}
