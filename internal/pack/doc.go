// Package pack assembles the validated flow graph, resolved artifacts,
// and transcript into a canonical on-disk bundle whose serialization is
// byte-identical across repeated runs given identical inputs.
//
// The content digest is computed over the canonical byte serialization of
// the payload, never over an in-memory representation, so two independent
// builder instances given equivalent logical inputs always agree.
// Provenance (builder identity, build time, host) is recorded in the
// bundle but deliberately excluded from the digest input.
package pack
