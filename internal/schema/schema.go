package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// --- Primary Flow Structures ---

// ConfigBlock represents the content of the 'config' block within a node.
// Its attributes stay opaque at this layer; the loader converts them to
// native Go values without interpreting them.
type ConfigBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// FlowBlock represents the `flow` block that names a flow and designates
// its entry node.
type FlowBlock struct {
	Name        string `hcl:"name,label"`
	Entry       string `hcl:"entry"`
	Description string `hcl:"description,optional"`
}

// Node represents a `node` block from a user's flow file. It binds a
// component operation to a raw configuration object and routes to zero or
// more downstream nodes.
type Node struct {
	Component string       `hcl:"component,label"`
	ID        string       `hcl:"node_id,label"`
	Version   string       `hcl:"version,optional"`
	Pin       string       `hcl:"pin,optional"`
	Operation string       `hcl:"operation"`
	Config    *ConfigBlock `hcl:"config,block"`
	RouteTo   []string     `hcl:"route_to,optional"`
}

// FlowConfig represents the top-level structure of a user's flow file,
// containing the flow declaration and all of its nodes.
type FlowConfig struct {
	Flow  *FlowBlock `hcl:"flow,block"`
	Nodes []*Node    `hcl:"node,block"`
	Body  hcl.Body   `hcl:",remain"`
}

// --- Pack Metadata Schema ---

// PackBlock represents the optional `pack` block of a pack metadata file.
// Every field is optional; defaults are derived from the flow.
type PackBlock struct {
	PackID      string   `hcl:"pack_id,optional"`
	Version     string   `hcl:"version,optional"`
	Name        string   `hcl:"name,optional"`
	Description string   `hcl:"description,optional"`
	Authors     []string `hcl:"authors,optional"`
	License     string   `hcl:"license,optional"`
}

// PackMetaConfig represents the top-level structure of a pack metadata file.
type PackMetaConfig struct {
	Pack *PackBlock `hcl:"pack,block"`
	Body hcl.Body   `hcl:",remain"`
}
