// Package config loads runtime settings and selection documents.
//
// Settings come from config.yaml in the configuration directory
// (~/.config/oneiric by default, ONEIRIC_CONFIG to override), layered
// with environment variables: ONEIRIC_STACK_ORDER for source
// priorities and ONEIRIC_TRUSTED_PUBLIC_KEYS for manifest verification
// keys. A missing config.yaml is not an error; defaults apply.
//
// Selection sources answer "which provider should serve each key" for
// one domain. The file-backed source reads
// <config>/selections/<domain>.yaml, a flat key-to-provider map; the
// static source backs tests and embedding hosts.
package config
