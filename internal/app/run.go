package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/ctxlog"
	"github.com/vk/flowpack/internal/graph"
	"github.com/vk/flowpack/internal/pack"
	"github.com/vk/flowpack/internal/resolver"
	"github.com/vk/flowpack/internal/schemacache"
	"github.com/vk/flowpack/internal/transcript"
	"github.com/vk/flowpack/internal/validate"
)

// Run executes the build: load flows, resolve and validate every node,
// and write one deterministic pack per flow.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run started.", "flow_path", a.config.FlowPath)

	flows, err := a.loader.Load(ctx, a.config.FlowPath)
	if err != nil {
		return fmt.Errorf("failed to load flows: %w", err)
	}
	a.logger.Debug("Flows loaded.", "count", len(flows))

	for _, flow := range flows {
		outPath := a.outputPathFor(flow, len(flows) > 1)
		result, err := a.buildFlow(ctx, flow, outPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.outW, "Pack built at %s (digest %s)\n", result.Path, result.Digest)
	}
	return nil
}

// outputPathFor places a single flow at the configured output path, and
// multiple flows inside it as a directory.
func (a *App) outputPathFor(flow *config.Flow, multiple bool) string {
	if !multiple {
		return a.config.OutputPath
	}
	return filepath.Join(a.config.OutputPath, flow.ID+".fpack")
}

// nodeOutcome is what concurrent node processing produces for one node.
// Outcomes are collected into a slice indexed by traversal position so
// completion order never matters.
type nodeOutcome struct {
	component *resolver.PreparedComponent
	schemaID  string
	resolved  validate.ResolvedConfig
	err       error
}

// buildFlow runs the pipeline for one flow, and in strict mode runs it a
// second time from fresh caches to prove the digest is reproducible. The
// self-check covers every upstream stage, not just serialization.
func (a *App) buildFlow(ctx context.Context, flow *config.Flow, outPath string) (*pack.Result, error) {
	result, err := a.buildOnce(ctx, flow, outPath)
	if err != nil {
		return nil, err
	}

	if a.config.Strict {
		if err := a.verifyDeterminism(ctx, flow, result); err != nil {
			return nil, err
		}
		ctxlog.FromContext(ctx).Info("Determinism self-check passed.", "digest", result.Digest)
	}
	return result, nil
}

// buildOnce is a single end-to-end pass: graph, resolution, validation,
// transcript, bundle.
func (a *App) buildOnce(ctx context.Context, flow *config.Flow, outPath string) (*pack.Result, error) {
	logger := ctxlog.FromContext(ctx)

	routing, err := graph.Build(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to build routing graph for flow %q: %w", flow.ID, err)
	}
	traversal := routing.Traversal()
	logger.Debug("Canonical traversal established.", "flow", flow.ID, "order", traversal)

	// Fresh caches per build: no state survives across invocations.
	session := resolver.New(resolver.Options{
		ComponentsDir: a.config.ComponentsDir,
		CacheDir:      a.config.CacheDir,
		Remote:        a.remote(),
	})
	schemas := schemacache.New()

	outcomes := a.processNodes(ctx, flow, traversal, session, schemas)

	// Collect every node-scoped failure before giving up, so one build
	// report lists every broken node.
	var nodeErrs []error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			nodeErrs = append(nodeErrs, outcome.err)
		}
	}
	if len(nodeErrs) > 0 {
		return nil, fmt.Errorf("flow %q has %d broken node(s): %w", flow.ID, len(nodeErrs), errors.Join(nodeErrs...))
	}

	recorder := transcript.NewRecorder(traversal)
	for i, nodeID := range traversal {
		outcome := outcomes[i]
		if err := recorder.Record(transcript.Entry{
			NodeID:         nodeID,
			Component:      outcome.component.ID(),
			ArtifactDigest: outcome.component.ArtifactDigest,
			SchemaID:       outcome.schemaID,
			Config:         outcome.resolved,
			Diagnostics:    outcome.component.Warnings,
		}); err != nil {
			return nil, err
		}
	}

	meta, err := pack.LoadMeta(a.config.MetaPath, flow)
	if err != nil {
		return nil, err
	}

	builder := pack.NewBuilder(meta).WithFlow(flow).WithTranscript(recorder)
	for i, nodeID := range traversal {
		builder.WithComponent(nodeID, outcomes[i].component)
	}

	result, err := builder.Build(ctx, outPath)
	if err != nil {
		return nil, fmt.Errorf("pack build failed for flow %q: %w", flow.ID, err)
	}
	return result, nil
}

// processNodes resolves and validates every node concurrently, bounded
// by the worker count. Each outcome lands at its traversal index; errors
// are stored, not short-circuited, so independent failures all surface.
func (a *App) processNodes(
	ctx context.Context,
	flow *config.Flow,
	traversal []string,
	session *resolver.Resolver,
	schemas *schemacache.Cache,
) []nodeOutcome {
	outcomes := make([]nodeOutcome, len(traversal))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.WorkerCount)
	for i, nodeID := range traversal {
		i := i
		node := flow.NodeByID(nodeID)
		g.Go(func() error {
			outcomes[i] = a.processNode(gctx, node, session, schemas)
			return nil
		})
	}
	// Workers only report through their outcome slot.
	_ = g.Wait()
	return outcomes
}

// processNode runs the per-node pipeline: resolve the component, obtain
// its compiled schema, and validate-and-merge the node's configuration.
func (a *App) processNode(
	ctx context.Context,
	node *config.Node,
	session *resolver.Resolver,
	schemas *schemacache.Cache,
) nodeOutcome {
	component, err := session.Resolve(ctx, node.ID, node.Component)
	if err != nil {
		return nodeOutcome{err: err}
	}

	compiled, err := schemas.For(component)
	if err != nil {
		return nodeOutcome{err: fmt.Errorf("node %q: %w", node.ID, err)}
	}

	resolved, err := validate.Merge(node.ID, node.Config, compiled)
	if err != nil {
		return nodeOutcome{err: err}
	}

	return nodeOutcome{
		component: component,
		schemaID:  compiled.ID,
		resolved:  resolved,
	}
}

// remote exposes the App's registry client as the resolver's Remote.
// The nil check happens on the concrete type so an absent client yields
// a nil interface, not an interface wrapping a nil pointer.
func (a *App) remote() resolver.Remote {
	if a.registry == nil {
		return nil
	}
	return a.registry
}

// verifyDeterminism runs a complete second pass into a scratch location
// and compares digests. The rebuild starts from fresh resolver and
// schema caches, so a mismatch indicts any stage of the pipeline.
func (a *App) verifyDeterminism(ctx context.Context, flow *config.Flow, first *pack.Result) error {
	scratchDir, err := os.MkdirTemp("", "flowpack-strict-*")
	if err != nil {
		return fmt.Errorf("failed to create determinism scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	name := strings.TrimSuffix(filepath.Base(first.Path), filepath.Ext(first.Path))
	second, err := a.buildOnce(ctx, flow, filepath.Join(scratchDir, name+".fpack"))
	if err != nil {
		return fmt.Errorf("determinism rebuild failed: %w", err)
	}
	return pack.VerifyDeterminism(first, second)
}
