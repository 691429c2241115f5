package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/vk/flowpack/internal/transcript"
)

// Payload is the canonical logical content of a pack: everything the
// content digest covers. Struct field order is fixed here and map keys
// are sorted by the JSON encoder, so marshalling the same logical payload
// always yields the same bytes.
type Payload struct {
	Pack       Meta               `json:"pack"`
	Flow       FlowSection        `json:"flow"`
	Artifacts  []Artifact         `json:"artifacts"`
	Transcript []transcript.Entry `json:"transcript"`
}

// Meta is the pack-level metadata embedded in the canonical payload.
type Meta struct {
	PackID      string   `json:"pack_id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	License     string   `json:"license,omitempty"`
}

// FlowSection is the canonicalized flow graph: nodes sorted by id, with
// a stable field order independent of the source document's layout.
type FlowSection struct {
	ID    string        `json:"id"`
	Entry string        `json:"entry"`
	Nodes []NodeSection `json:"nodes"`
}

// NodeSection is one node of the canonical graph.
type NodeSection struct {
	ID        string           `json:"id"`
	Component ComponentSection `json:"component"`
	Operation string           `json:"operation"`
	RouteTo   []string         `json:"route_to,omitempty"`
}

// ComponentSection records both the reference as written and the
// identity it resolved to.
type ComponentSection struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
	Pin        string `json:"pin,omitempty"`
	Resolved   string `json:"resolved"`
	Digest     string `json:"digest"`
}

// Artifact is one deduplicated component binary embedded in the bundle.
type Artifact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
	Size    int64  `json:"size"`
	File    string `json:"file"`
}

// Provenance describes who built the pack and when. It lives in the
// manifest next to the canonical payload but never inside it.
type Provenance struct {
	Builder    string `json:"builder"`
	Host       string `json:"host,omitempty"`
	BuiltAtUTC string `json:"built_at_utc"`
}

// Manifest is the full manifest.json of a bundle.
type Manifest struct {
	Canonical  Payload    `json:"canonical"`
	Provenance Provenance `json:"provenance"`
	// Digest is the content digest over the canonical payload bytes.
	Digest string `json:"digest"`
}

// MarshalCanonical serializes the payload to its canonical byte form.
func MarshalCanonical(payload Payload) ([]byte, error) {
	return json.Marshal(payload)
}

// Digest computes the pack content digest over canonical bytes, in the
// "sha256:<hex>" form used throughout.
func Digest(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}
