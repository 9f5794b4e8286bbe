// Package codec serializes package declarations into the reserved container entry.
//
// Two encodings share one document schema tagged "appkg/v1": YAML for
// human-inspectable containers and deterministic CBOR for compact ones. Each
// codec owns a distinct reserved entry name, which is how a reader tells them
// apart.
package codec
