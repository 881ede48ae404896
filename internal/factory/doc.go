// Package factory dispatches instance construction and enforces the
// factory allowlist.
//
// Hosts register named factory functions in the table; candidates refer
// to them by name. The allowlist holds glob or regex patterns for
// permitted names; an empty allowlist permits everything registered.
package factory
