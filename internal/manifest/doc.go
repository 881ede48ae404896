// Package manifest defines the remote manifest format, its validation
// and its Ed25519 signature scheme.
//
// # Canonical Form
//
// Signing covers the canonical encoding of the manifest: the signature
// fields are removed and the remainder is serialized as compact JSON
// with sorted keys, so cosmetic re-encoding never invalidates a
// signature. Verification accepts a manifest signed by any one of the
// trusted keys. An unsigned manifest passes with a warning unless
// signatures are required.
//
// # Path Safety
//
// SanitizePath confines manifest-supplied relative paths to the cache
// directory. Absolute paths and any traversal outside the root are
// rejected before a single byte is read.
package manifest
