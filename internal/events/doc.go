// Package events carries runtime notifications and Prometheus metrics.
//
// The bus fans events out to subscribers on buffered channels, dropping
// for slow consumers rather than blocking publishers, and keeps a
// bounded ring of recent events for diagnostics. Reasons are stable
// identifiers; consumers switch on them rather than on message text.
package events
