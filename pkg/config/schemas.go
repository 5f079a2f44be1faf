package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.registerBuiltInSchemas(); err != nil {
		panic(err)
	}

	return sr
}

// Built-in schema names.
const (
	SchemaConfig   = "config"
	SchemaEndpoint = "endpoint"
	SchemaFilters  = "filters"
)

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() error {
	for name, def := range map[string]string{
		SchemaConfig:   "#Config",
		SchemaEndpoint: "#Endpoint",
		SchemaFilters:  "#Filters",
	} {
		if err := sr.RegisterSchema(name, builtinConfigSchema, def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSchema compiles source and registers the definition it names
// (for example "#Endpoint") under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s: definition %s: %w", name, definition, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
// A cue.Context is not safe for concurrent use, so validations are serialized.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %s", cueerrors.Details(err, nil))
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig validates a raw configuration tree.
func (sr *SchemaRegistry) ValidateConfig(ctx context.Context, raw RawConfig) error {
	if raw == nil {
		raw = RawConfig{}
	}
	return sr.ValidateAgainstSchema(ctx, SchemaConfig, map[string]interface{}(raw))
}

// Built-in schema definitions

const builtinConfigSchema = `
#StringOrList: string | [...string]

#TagValue: string | number | bool | null | {
	value?:  string | number | bool | null
	negate?: bool
}

// Tags are a mapping of config key to expected value, or a list of
// "key=value", "key!=value", "key" and "!key" expressions.
#Tags: {[string]: #TagValue} | [...string] | null

#Filters: {
	status?:            #StringOrList | null
	type?:              #StringOrList | null
	projects?:          #StringOrList | null
	profiles?:          #StringOrList | null
	ignore_interfaces?: #StringOrList | null
	prefer_ipv6?:       bool | null
	exclude_names?:     #StringOrList | null
	exclude_projects?:  #StringOrList | null
	tags?:              #Tags
}

_endpointFields: {
	endpoint?:        string & =~"^(unix|https?)://" | null
	cert_path?:       string | null
	key_path?:        string | null
	ca_cert_path?:    string | null
	verify_ssl?:      bool | null
	hostname_format?: string | null
	filters?:         #Filters | null
}

#Endpoint: {
	_endpointFields
}

#Config: {
	_endpointFields

	global_defaults?: #Endpoint | null
	lxd_endpoints?:   {[=~"^[A-Za-z0-9][A-Za-z0-9._-]*$"]: #Endpoint | null} | null
}
`
