// Package schemacache compiles component configuration schemas exactly
// once per build session and shares the compiled validator across every
// node that references the same component identity.
package schemacache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vk/flowpack/internal/resolver"
)

// InvalidSchemaError reports a component whose declared schema document
// does not parse or compile. It is fatal for every node depending on
// that component.
type InvalidSchemaError struct {
	ComponentID string
	Err         error
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("component %s declares an invalid config schema: %v", e.ComponentID, e.Err)
}

func (e *InvalidSchemaError) Unwrap() error { return e.Err }

// Compiled is one compiled validator plus the schema's declared
// top-level defaults. Compiled values are immutable after creation and
// shared by reference.
type Compiled struct {
	// ID is the schema identifier: the owning component's identity.
	ID string
	// Schema is the compiled validator.
	Schema *gojsonschema.Schema
	// Defaults maps top-level property names to their declared default
	// values.
	Defaults map[string]any
	// Raw is the schema document the validator was compiled from.
	Raw json.RawMessage
}

// emptySchema is what a component without a declared schema compiles to:
// everything validates, nothing defaults.
var emptySchema = json.RawMessage(`{}`)

// Cache is the per-build compiled-schema cache. It is scoped to one
// build session object and explicitly passed to every stage, never
// ambient state.
type Cache struct {
	mu       sync.Mutex
	compiled map[string]*Compiled
}

// New creates an empty schema cache for one build session.
func New() *Cache {
	return &Cache{compiled: make(map[string]*Compiled)}
}

// For returns the compiled schema for a prepared component, compiling it
// on first use. Repeated calls for the same component identity return the
// identical Compiled handle; the lock is held across compilation so
// concurrent nodes never compile the same schema twice.
func (c *Cache) For(component *resolver.PreparedComponent) (*Compiled, error) {
	id := component.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.compiled[id]; ok {
		return existing, nil
	}

	raw := component.SchemaJSON
	if raw == nil {
		raw = emptySchema
	}

	compiled, err := compile(id, raw)
	if err != nil {
		return nil, err
	}
	c.compiled[id] = compiled
	return compiled, nil
}

// compile builds the validator and extracts the declared defaults.
func compile(id string, raw json.RawMessage) (*Compiled, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &InvalidSchemaError{ComponentID: id, Err: err}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &InvalidSchemaError{ComponentID: id, Err: err}
	}

	return &Compiled{
		ID:       id,
		Schema:   schema,
		Defaults: declaredDefaults(doc),
		Raw:      raw,
	}, nil
}

// declaredDefaults collects the `default` value of every top-level
// property in the schema document.
func declaredDefaults(doc map[string]any) map[string]any {
	defaults := make(map[string]any)
	properties, ok := doc["properties"].(map[string]any)
	if !ok {
		return defaults
	}
	for name, prop := range properties {
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		if def, ok := propMap["default"]; ok {
			defaults[name] = def
		}
	}
	return defaults
}
