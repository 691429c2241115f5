package pack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/ctxlog"
	"github.com/vk/flowpack/internal/resolver"
	"github.com/vk/flowpack/internal/transcript"
)

// NonDeterministicBuildError reports two builds of the same inputs that
// disagreed on their content digest. It indicates a determinism bug in an
// upstream stage and is always build-fatal.
type NonDeterministicBuildError struct {
	First  string
	Second string
}

func (e *NonDeterministicBuildError) Error() string {
	return fmt.Sprintf("non-deterministic build: digest %s != %s for identical inputs", e.First, e.Second)
}

// Builder assembles one pack. It is the terminal consumer of the build
// pipeline: every upstream failure aborts before Build runs.
type Builder struct {
	meta       Meta
	flow       *config.Flow
	components map[string]*resolver.PreparedComponent
	recorder   *transcript.Recorder
}

// Result is a finished bundle on disk.
type Result struct {
	Path string
	// Digest is the content digest of the canonical payload.
	Digest string
}

// NewBuilder creates a builder for a pack with the given metadata.
func NewBuilder(meta Meta) *Builder {
	return &Builder{
		meta:       meta,
		components: make(map[string]*resolver.PreparedComponent),
	}
}

// WithFlow sets the validated flow the pack embeds.
func (b *Builder) WithFlow(flow *config.Flow) *Builder {
	b.flow = flow
	return b
}

// WithComponent associates a node with its resolved component.
func (b *Builder) WithComponent(nodeID string, component *resolver.PreparedComponent) *Builder {
	b.components[nodeID] = component
	return b
}

// WithTranscript sets the completed transcript.
func (b *Builder) WithTranscript(recorder *transcript.Recorder) *Builder {
	b.recorder = recorder
	return b
}

// Build writes the bundle to outPath and returns its content digest.
func (b *Builder) Build(ctx context.Context, outPath string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	if b.flow == nil {
		return nil, fmt.Errorf("pack builder has no flow")
	}
	if b.recorder == nil || !b.recorder.Complete() {
		return nil, fmt.Errorf("pack builder transcript is incomplete")
	}
	for _, node := range b.flow.Nodes {
		if _, ok := b.components[node.ID]; !ok {
			return nil, fmt.Errorf("pack builder has no resolved component for node %q", node.ID)
		}
	}

	payload, err := b.buildPayload()
	if err != nil {
		return nil, err
	}
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize canonical payload: %w", err)
	}
	digest := Digest(canonical)

	manifest := Manifest{
		Canonical:  payload,
		Provenance: buildProvenance(),
		Digest:     digest,
	}
	if err := b.writeBundle(outPath, manifest, payload.Artifacts); err != nil {
		return nil, err
	}

	logger.Info("Pack built.", "path", outPath, "digest", digest)
	return &Result{Path: outPath, Digest: digest}, nil
}

// buildPayload canonicalizes the flow, deduplicates artifacts by content
// digest, and embeds the transcript in traversal order.
func (b *Builder) buildPayload() (Payload, error) {
	nodes := make([]NodeSection, 0, len(b.flow.Nodes))
	for _, node := range b.flow.Nodes {
		component := b.components[node.ID]
		nodes = append(nodes, NodeSection{
			ID: node.ID,
			Component: ComponentSection{
				Name:       node.Component.Name,
				Constraint: node.Component.Version,
				Pin:        node.Component.Pin,
				Resolved:   component.ID(),
				Digest:     component.ArtifactDigest,
			},
			Operation: node.Operation,
			RouteTo:   node.RouteTo,
		})
	}
	// Canonical node order is by id, independent of the source document's
	// textual layout. Routing semantics live in the route_to lists.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	// Owners are walked in identity order so the artifact entry for bytes
	// shared by differently-named components never depends on map
	// iteration order: the lexicographically smallest name@version wins.
	owners := make([]*resolver.PreparedComponent, 0, len(b.components))
	for _, component := range b.components {
		owners = append(owners, component)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].ID() < owners[j].ID() })

	byDigest := make(map[string]Artifact)
	for _, component := range owners {
		digest := component.ArtifactDigest
		if _, ok := byDigest[digest]; ok {
			continue
		}
		info, err := os.Stat(component.ArtifactPath)
		if err != nil {
			return Payload{}, fmt.Errorf("failed to stat artifact %s: %w", component.ArtifactPath, err)
		}
		byDigest[digest] = Artifact{
			Name:    component.Name,
			Version: component.Version.String(),
			Digest:  digest,
			Size:    info.Size(),
			File:    artifactEntryName(digest),
		}
	}
	artifacts := make([]Artifact, 0, len(byDigest))
	for _, artifact := range byDigest {
		artifacts = append(artifacts, artifact)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Digest < artifacts[j].Digest })

	return Payload{
		Pack: b.meta,
		Flow: FlowSection{
			ID:    b.flow.ID,
			Entry: b.flow.Entry,
			Nodes: nodes,
		},
		Artifacts:  artifacts,
		Transcript: b.recorder.Entries(),
	}, nil
}

// writeBundle writes the zip container: the manifest first, then the
// artifacts in digest order, every entry with a zeroed timestamp.
func (b *Builder) writeBundle(outPath string, manifest Manifest, artifacts []Artifact) error {
	if parent := filepath.Dir(outPath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", parent, err)
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create bundle %s: %w", outPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	manifestRaw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}
	if err := writeZipEntry(zw, "manifest.json", func(w io.Writer) error {
		_, err := w.Write(manifestRaw)
		return err
	}); err != nil {
		return err
	}

	sources := make(map[string]string, len(b.components))
	for _, component := range b.components {
		sources[component.ArtifactDigest] = component.ArtifactPath
	}
	for _, artifact := range artifacts {
		source := sources[artifact.Digest]
		if err := writeZipEntry(zw, artifact.File, func(w io.Writer) error {
			in, err := os.Open(source)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(w, in)
			return err
		}); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize bundle: %w", err)
	}
	return f.Close()
}

// writeZipEntry writes one entry with a fixed header so the container
// bytes depend only on content.
func writeZipEntry(zw *zip.Writer, name string, write func(io.Writer) error) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Time{},
	})
	if err != nil {
		return fmt.Errorf("failed to create bundle entry %s: %w", name, err)
	}
	if err := write(w); err != nil {
		return fmt.Errorf("failed to write bundle entry %s: %w", name, err)
	}
	return nil
}

// artifactEntryName maps a content digest to its file name inside the
// bundle.
func artifactEntryName(digest string) string {
	return "artifacts/" + strings.TrimPrefix(digest, "sha256:")
}

// buildProvenance records who built the pack. Deliberately outside the
// canonical payload: it varies per machine and per run.
func buildProvenance() Provenance {
	prov := Provenance{
		Builder:    "flowpack",
		BuiltAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	if host, err := os.Hostname(); err == nil {
		prov.Host = host
	}
	return prov
}

// VerifyDeterminism compares the digests of two builds of the same
// inputs. A mismatch is always build-fatal.
func VerifyDeterminism(first, second *Result) error {
	if first.Digest != second.Digest {
		return &NonDeterministicBuildError{First: first.Digest, Second: second.Digest}
	}
	return nil
}
