// This file contains the logic for translating HCL schema structs into the
// format-agnostic flow model defined in the config package, plus the
// structural validation the loader contract requires.

package hcl

import (
	"context"
	"fmt"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/schema"
)

// translateFlow converts a decoded flow document into the agnostic model
// and enforces the structural invariants: unique node ids, existing route
// targets, and a designated entry node. Cycles are legal; routing is not
// required to form a DAG.
func (l *Loader) translateFlow(ctx context.Context, raw *schema.FlowConfig) (*config.Flow, error) {
	flow := &config.Flow{
		ID:          raw.Flow.Name,
		Entry:       raw.Flow.Entry,
		Description: raw.Flow.Description,
		Nodes:       make([]*config.Node, 0, len(raw.Nodes)),
	}

	if flow.Entry == "" {
		return nil, &MalformedFlowError{Detail: fmt.Sprintf("flow %q has an empty entry node", flow.ID)}
	}

	seen := make(map[string]bool, len(raw.Nodes))
	for _, n := range raw.Nodes {
		if seen[n.ID] {
			return nil, &MalformedFlowError{Detail: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true

		node, err := l.translateNode(n)
		if err != nil {
			return nil, err
		}
		flow.Nodes = append(flow.Nodes, node)
	}

	if !seen[flow.Entry] {
		return nil, &MalformedFlowError{Detail: fmt.Sprintf("entry node %q does not exist", flow.Entry)}
	}
	for _, node := range flow.Nodes {
		for _, target := range node.RouteTo {
			if !seen[target] {
				return nil, &MalformedFlowError{Detail: fmt.Sprintf("node %q routes to unknown node %q", node.ID, target)}
			}
		}
	}

	return flow, nil
}

// translateNode converts a single node block, decoding its opaque config
// body into native Go values.
func (l *Loader) translateNode(n *schema.Node) (*config.Node, error) {
	cfg, err := l.extractConfig(n)
	if err != nil {
		return nil, &MalformedFlowError{Detail: fmt.Sprintf("node %q has an invalid config block", n.ID), Err: err}
	}
	return &config.Node{
		ID: n.ID,
		Component: config.ComponentRef{
			Name:    n.Component,
			Version: n.Version,
			Pin:     n.Pin,
		},
		Operation: n.Operation,
		Config:    cfg,
		RouteTo:   n.RouteTo,
	}, nil
}

// extractConfig evaluates every attribute of the node's config block into
// its native Go value. Configuration must be literal; expressions that
// reference variables are rejected here, not deferred to run time.
func (l *Loader) extractConfig(n *schema.Node) (map[string]any, error) {
	if n.Config == nil || n.Config.Body == nil {
		return map[string]any{}, nil
	}

	attrs, diags := n.Config.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("attribute %q: %w", name, diags)
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		cfg[name] = native
	}
	return cfg, nil
}
