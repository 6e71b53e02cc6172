// Package registry is the source of truth for dispatchable tools: it
// maps an action name to its descriptor (trust tier, parameter schema)
// and to its runtime executor, and self-validates at startup.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

// Resolved is a descriptor joined with its compiled schema and bound
// executor, as handed to the dispatcher.
type Resolved struct {
	Descriptor *contracts.ToolDescriptor
	Schema     *jsonschema.Schema // nil when the descriptor declares no params
	Executor   contracts.Executor // nil for unbound non-mutating tools
}

// Registry holds tool descriptors and executor bindings. Construct one
// per process (or per test) via New; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*contracts.ToolDescriptor
	schemas  map[string]*jsonschema.Schema
	bindings map[string]contracts.Executor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools:    make(map[string]*contracts.ToolDescriptor),
		schemas:  make(map[string]*jsonschema.Schema),
		bindings: make(map[string]contracts.Executor),
	}
}

// Register adds a tool descriptor. The trust tier is required and has
// no default: a missing tier can never silently become auto-execute.
func (r *Registry) Register(desc *contracts.ToolDescriptor) error {
	if desc == nil {
		return faults.Validation("nil tool descriptor", nil)
	}
	if desc.Name == "" {
		return faults.Validation("tool name is required", nil)
	}
	if desc.Tier == "" {
		return faults.Validation(fmt.Sprintf("tool %q: trust tier is required and has no default", desc.Name), nil)
	}
	if !desc.Tier.Valid() {
		return faults.Validation(fmt.Sprintf("tool %q: unknown trust tier %q", desc.Name, desc.Tier), nil)
	}
	if desc.Version == "" {
		return faults.Validation(fmt.Sprintf("tool %q: version is required", desc.Name), nil)
	}
	if _, err := semver.NewVersion(desc.Version); err != nil {
		return faults.Validation(fmt.Sprintf("tool %q: version %q is not valid semver", desc.Name, desc.Version), nil)
	}

	var schema *jsonschema.Schema
	if desc.ParamSchema != "" {
		compiled, err := compileSchema(desc.Name, desc.ParamSchema)
		if err != nil {
			return faults.Validation(fmt.Sprintf("tool %q: invalid parameter schema: %v", desc.Name, err), nil)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return faults.StateConflict(fmt.Sprintf("tool %q already registered", desc.Name))
	}
	r.tools[desc.Name] = desc
	if schema != nil {
		r.schemas[desc.Name] = schema
	}
	return nil
}

// Bind attaches the executor for a registered tool name. Exactly one
// binding per name is allowed.
func (r *Registry) Bind(name string, exec contracts.Executor) error {
	if exec == nil {
		return faults.Validation(fmt.Sprintf("tool %q: nil executor", name), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return faults.NotFound(fmt.Sprintf("cannot bind executor: tool %q is not registered", name))
	}
	if _, dup := r.bindings[name]; dup {
		return faults.StateConflict(fmt.Sprintf("tool %q already has a bound executor", name))
	}
	r.bindings[name] = exec
	return nil
}

// Validate scans every mutating descriptor and fails with a single
// aggregated fault listing each tool name lacking a bound executor.
// Run at process startup; a non-nil result must abort boot.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for name, desc := range r.tools {
		if desc.Mutating && r.bindings[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return faults.ExecutorMissing(missing)
	}
	return nil
}

// Resolve returns the descriptor, compiled schema, and executor for a
// tool name. Unknown names are a runtime NOT_FOUND; an unbound mutating
// name is a startup defect surfaced as EXECUTOR_MISSING.
func (r *Registry) Resolve(name string) (*Resolved, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return nil, faults.NotFound(fmt.Sprintf("unknown tool %q", name))
	}
	exec := r.bindings[name]
	if desc.Mutating && exec == nil {
		return nil, faults.ExecutorMissing([]string{name})
	}
	return &Resolved{Descriptor: desc, Schema: r.schemas[name], Executor: exec}, nil
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateParams checks raw params against the tool's schema, returning
// a VALIDATION fault with per-field detail. Params are never partially
// applied: any schema violation rejects the whole request.
func (res *Resolved) ValidateParams(params map[string]any) error {
	if res.Schema == nil {
		return nil
	}
	// jsonschema validates generic JSON values; round-tripping through
	// the interface form the compiler expects.
	if err := res.Schema.Validate(asJSONValue(params)); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return faults.Validation(fmt.Sprintf("tool %q: parameters rejected", res.Descriptor.Name), nil)
		}
		return faults.Validation(
			fmt.Sprintf("tool %q: invalid parameters", res.Descriptor.Name),
			flattenCauses(ve),
		)
	}
	return nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://concierge.schemas.local/tools/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// flattenCauses maps leaf validation errors to field → message, keyed
// by instance location ("/price"). Root-level violations key on "/".
func flattenCauses(ve *jsonschema.ValidationError) map[string]string {
	fields := make(map[string]string)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			if _, seen := fields[loc]; !seen {
				fields[loc] = e.Message
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return fields
}

// asJSONValue normalizes a params map to the generic JSON shape the
// schema validator expects (e.g. ints become float64).
func asJSONValue(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	normalized := make(map[string]any, len(params))
	for k, v := range params {
		normalized[k] = normalizeValue(v)
	}
	return normalized
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
