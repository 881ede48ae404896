// Package activity persists operator pause/drain controls in an embedded
// SQLite database.
//
// Each (domain, key) pair carries a paused flag, a draining flag and an
// operator note. ShouldAcceptWork turns the record into a swap decision:
// paused rejects, draining defers, anything else (including an unknown
// pair) accepts. Paused takes precedence when both flags are set.
//
// Every mutation is appended to an audit history table and announced on
// the event bus. The database lives at domain_activity.sqlite in the
// cache directory and survives restarts.
package activity
