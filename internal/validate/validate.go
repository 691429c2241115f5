// Package validate checks each node's raw configuration against its
// component's compiled schema, merges in declared defaults, and tags
// every resulting field with its provenance.
package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vk/flowpack/internal/schemacache"
)

// Source states where a resolved field's value came from. It is a tagged
// union rather than a boolean so an override that happens to equal the
// default can never be mistaken for a default.
type Source int

const (
	// SourceDefault marks a value filled in from the schema's declared
	// default because the raw configuration omitted the field.
	SourceDefault Source = iota
	// SourceOverride marks a value supplied by the raw configuration,
	// regardless of whether it equals the default.
	SourceOverride
)

// String returns the wire name of the source tag.
func (s Source) String() string {
	if s == SourceDefault {
		return "default"
	}
	return "override"
}

// MarshalJSON encodes the tag as its wire name.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the wire name back into the tag.
func (s *Source) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "default":
		*s = SourceDefault
	case "override":
		*s = SourceOverride
	default:
		return fmt.Errorf("unknown field source %q", name)
	}
	return nil
}

// FieldValue is one resolved configuration field: the value plus its
// provenance tag.
type FieldValue struct {
	Source Source `json:"source"`
	Value  any    `json:"value"`
}

// ResolvedConfig is the per-node merged configuration. It is immutable
// once recorded into the transcript.
type ResolvedConfig map[string]FieldValue

// Plain strips the provenance tags, producing the object that is
// actually validated and handed to the execution runtime.
func (rc ResolvedConfig) Plain() map[string]any {
	plain := make(map[string]any, len(rc))
	for name, field := range rc {
		plain[name] = field.Value
	}
	return plain
}

// Violation is one violated schema constraint.
type Violation struct {
	// Field is the path of the offending field; "(root)" for whole-object
	// constraints.
	Field string `json:"field"`
	// Constraint describes the expectation that was not met.
	Constraint string `json:"constraint"`
	// Actual is the offending value.
	Actual any `json:"actual"`
}

// ConfigInvalidError reports every constraint a node's merged
// configuration violates, not just the first.
type ConfigInvalidError struct {
	NodeID     string
	SchemaID   string
	Violations []Violation
}

func (e *ConfigInvalidError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %q: config invalid against schema %s (%d violations):", e.NodeID, e.SchemaID, len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  - %s: %s (actual: %v)", v.Field, v.Constraint, v.Actual)
	}
	return b.String()
}

// Merge validates the node's raw configuration against the compiled
// schema and produces the tagged, default-filled resolved configuration.
// The raw map is never mutated; the result is independent of the raw
// map's iteration order.
func Merge(nodeID string, raw map[string]any, compiled *schemacache.Compiled) (ResolvedConfig, error) {
	resolved := make(ResolvedConfig, len(raw)+len(compiled.Defaults))

	// Every field present in the raw configuration is an override, even
	// when its value equals the declared default.
	for name, value := range raw {
		resolved[name] = FieldValue{Source: SourceOverride, Value: value}
	}
	// Declared defaults fill only the gaps.
	for name, value := range compiled.Defaults {
		if _, present := raw[name]; !present {
			resolved[name] = FieldValue{Source: SourceDefault, Value: value}
		}
	}

	result, err := compiled.Schema.Validate(gojsonschema.NewGoLoader(resolved.Plain()))
	if err != nil {
		return nil, fmt.Errorf("node %q: schema validation could not run: %w", nodeID, err)
	}
	if !result.Valid() {
		return nil, &ConfigInvalidError{
			NodeID:     nodeID,
			SchemaID:   compiled.ID,
			Violations: collectViolations(result),
		}
	}

	return resolved, nil
}

// collectViolations converts the validator's findings into the error
// shape, sorted for deterministic reporting.
func collectViolations(result *gojsonschema.Result) []Violation {
	violations := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, Violation{
			Field:      re.Field(),
			Constraint: re.Description(),
			Actual:     re.Value(),
		})
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Field != violations[j].Field {
			return violations[i].Field < violations[j].Field
		}
		return violations[i].Constraint < violations[j].Constraint
	})
	return violations
}
