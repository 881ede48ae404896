package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"oneiric/internal/api"
	"oneiric/internal/events"
	"oneiric/pkg/logging"
)

// StoreFileName is the activity database file under the cache directory.
const StoreFileName = "domain_activity.sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS activity (
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	paused     INTEGER NOT NULL DEFAULT 0,
	draining   INTEGER NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (domain, key)
);

CREATE TABLE IF NOT EXISTS activity_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	paused     INTEGER NOT NULL,
	draining   INTEGER NOT NULL,
	note       TEXT NOT NULL,
	changed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_history_pair
	ON activity_history (domain, key, id);
`

// activityRow is the database shape of an activity record. Timestamps are
// stored as RFC 3339 text so the file stays inspectable with any sqlite
// client.
type activityRow struct {
	Domain    string `db:"domain"`
	Key       string `db:"key"`
	Paused    bool   `db:"paused"`
	Draining  bool   `db:"draining"`
	Note      string `db:"note"`
	UpdatedAt string `db:"updated_at"`
}

func (r activityRow) state() api.ActivityState {
	updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		logging.Warn("Activity", "Unparseable timestamp %q for %s/%s", r.UpdatedAt, r.Domain, r.Key)
	}
	return api.ActivityState{
		Domain:    api.Domain(r.Domain),
		Key:       r.Key,
		Paused:    r.Paused,
		Draining:  r.Draining,
		Note:      r.Note,
		UpdatedAt: updated,
	}
}

// Counts aggregates activity flags for reporting.
type Counts struct {
	Paused   int `json:"paused"`
	Draining int `json:"draining"`
	NoteOnly int `json:"note_only"`
}

// GlobalCounts is the per-domain and overall activity aggregation.
type GlobalCounts struct {
	Overall   Counts                `json:"overall"`
	PerDomain map[api.Domain]Counts `json:"per_domain"`
}

// Store persists per-(domain, key) pause/drain state in an embedded
// sqlite database so operator decisions survive process restarts. Every
// mutation is appended to a history table and published as an event.
type Store struct {
	db  *sqlx.DB
	bus *events.Bus
}

// Open creates or opens the activity database under cacheDir. The bus is
// optional.
func Open(cacheDir string, bus *events.Bus) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		filepath.Join(cacheDir, StoreFileName))
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening activity store: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent mutation.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing activity schema: %w", err)
	}
	return &Store{db: db, bus: bus}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetPaused pauses or unpauses a (domain, key), recording the operator
// note.
func (s *Store) SetPaused(ctx context.Context, domain api.Domain, key string, paused bool, note string) (api.ActivityState, error) {
	return s.mutate(ctx, domain, key, func(state *api.ActivityState) {
		state.Paused = paused
		state.Note = note
	})
}

// SetDraining marks or unmarks a (domain, key) as draining, recording the
// operator note.
func (s *Store) SetDraining(ctx context.Context, domain api.Domain, key string, draining bool, note string) (api.ActivityState, error) {
	return s.mutate(ctx, domain, key, func(state *api.ActivityState) {
		state.Draining = draining
		state.Note = note
	})
}

// Set stores the full activity record for a (domain, key).
func (s *Store) Set(ctx context.Context, domain api.Domain, key string, paused, draining bool, note string) (api.ActivityState, error) {
	return s.mutate(ctx, domain, key, func(state *api.ActivityState) {
		state.Paused = paused
		state.Draining = draining
		state.Note = note
	})
}

// mutate applies a change to the stored record inside one transaction,
// appends the history row and publishes the change event.
func (s *Store) mutate(ctx context.Context, domain api.Domain, key string, apply func(*api.ActivityState)) (api.ActivityState, error) {
	if domain == "" || key == "" {
		return api.ActivityState{}, fmt.Errorf("activity mutation requires domain and key (got %q/%q)", domain, key)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return api.ActivityState{}, fmt.Errorf("beginning activity transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := getTx(ctx, tx, domain, key)
	if err != nil {
		return api.ActivityState{}, err
	}
	apply(&state)
	state.Domain = domain
	state.Key = key
	state.UpdatedAt = time.Now().UTC()

	stamp := state.UpdatedAt.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activity (domain, key, paused, draining, note, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, key) DO UPDATE SET
			paused = excluded.paused,
			draining = excluded.draining,
			note = excluded.note,
			updated_at = excluded.updated_at`,
		string(domain), key, state.Paused, state.Draining, state.Note, stamp); err != nil {
		return api.ActivityState{}, fmt.Errorf("storing activity for %s/%s: %w", domain, key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activity_history (domain, key, paused, draining, note, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(domain), key, state.Paused, state.Draining, state.Note, stamp); err != nil {
		return api.ActivityState{}, fmt.Errorf("recording activity history for %s/%s: %w", domain, key, err)
	}
	if err := tx.Commit(); err != nil {
		return api.ActivityState{}, fmt.Errorf("committing activity mutation: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Reason: events.ReasonActivityChanged, Domain: domain, Key: key,
			Message: state.Note,
			Fields: map[string]interface{}{
				"paused":   state.Paused,
				"draining": state.Draining,
			},
		})
		if sink := s.bus.MetricsSink(); sink != nil {
			sink.ObserveActivityMutation(string(domain))
		}
	}
	return state, nil
}

// Get returns the activity record for a (domain, key). An unknown pair
// yields the zero record with ok=false, never an error.
func (s *Store) Get(ctx context.Context, domain api.Domain, key string) (api.ActivityState, bool, error) {
	var row activityRow
	err := s.db.GetContext(ctx, &row,
		`SELECT domain, key, paused, draining, note, updated_at FROM activity WHERE domain = ? AND key = ?`,
		string(domain), key)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ActivityState{}, false, nil
	}
	if err != nil {
		return api.ActivityState{}, false, fmt.Errorf("reading activity for %s/%s: %w", domain, key, err)
	}
	return row.state(), true, nil
}

// SnapshotAll returns every stored activity record ordered by (domain,
// key).
func (s *Store) SnapshotAll(ctx context.Context) ([]api.ActivityState, error) {
	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT domain, key, paused, draining, note, updated_at FROM activity ORDER BY domain, key`); err != nil {
		return nil, fmt.Errorf("reading activity snapshot: %w", err)
	}
	out := make([]api.ActivityState, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.state())
	}
	return out, nil
}

// GlobalCounts aggregates paused/draining/note-only totals per domain and
// overall.
func (s *Store) GlobalCounts(ctx context.Context) (GlobalCounts, error) {
	states, err := s.SnapshotAll(ctx)
	if err != nil {
		return GlobalCounts{}, err
	}
	counts := GlobalCounts{PerDomain: make(map[api.Domain]Counts)}
	for _, state := range states {
		domainCounts := counts.PerDomain[state.Domain]
		switch {
		case state.Paused:
			counts.Overall.Paused++
			domainCounts.Paused++
		case state.Draining:
			counts.Overall.Draining++
			domainCounts.Draining++
		case state.Note != "":
			counts.Overall.NoteOnly++
			domainCounts.NoteOnly++
		}
		counts.PerDomain[state.Domain] = domainCounts
	}
	return counts, nil
}

// ShouldAcceptWork is the swap-time veto check: paused rejects, draining
// defers, anything else (including an unknown pair) accepts.
func (s *Store) ShouldAcceptWork(ctx context.Context, domain api.Domain, key string) (api.ActivityDecision, error) {
	state, ok, err := s.Get(ctx, domain, key)
	if err != nil {
		return api.ActivityAccept, err
	}
	if !ok {
		return api.ActivityAccept, nil
	}
	switch {
	case state.Paused:
		return api.ActivityReject, nil
	case state.Draining:
		return api.ActivityDefer, nil
	default:
		return api.ActivityAccept, nil
	}
}

// Mutation is one historical activity change, newest first from History.
type Mutation struct {
	Domain    api.Domain `json:"domain"`
	Key       string     `json:"key"`
	Paused    bool       `json:"paused"`
	Draining  bool       `json:"draining"`
	Note      string     `json:"note,omitempty"`
	ChangedAt time.Time  `json:"changedAt"`
}

// History returns the most recent mutations for a (domain, key), newest
// first, bounded by limit.
func (s *Store) History(ctx context.Context, domain api.Domain, key string, limit int) ([]Mutation, error) {
	if limit <= 0 {
		limit = 50
	}
	type historyRow struct {
		Domain    string `db:"domain"`
		Key       string `db:"key"`
		Paused    bool   `db:"paused"`
		Draining  bool   `db:"draining"`
		Note      string `db:"note"`
		ChangedAt string `db:"changed_at"`
	}
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT domain, key, paused, draining, note, changed_at FROM activity_history
		WHERE domain = ? AND key = ? ORDER BY id DESC LIMIT ?`,
		string(domain), key, limit); err != nil {
		return nil, fmt.Errorf("reading activity history for %s/%s: %w", domain, key, err)
	}
	out := make([]Mutation, 0, len(rows))
	for _, row := range rows {
		changed, _ := time.Parse(time.RFC3339Nano, row.ChangedAt)
		out = append(out, Mutation{
			Domain:    api.Domain(row.Domain),
			Key:       row.Key,
			Paused:    row.Paused,
			Draining:  row.Draining,
			Note:      row.Note,
			ChangedAt: changed,
		})
	}
	return out, nil
}

// getTx reads the current record inside a transaction, defaulting to the
// zero record for an unknown pair.
func getTx(ctx context.Context, tx *sqlx.Tx, domain api.Domain, key string) (api.ActivityState, error) {
	var row activityRow
	err := tx.GetContext(ctx, &row,
		`SELECT domain, key, paused, draining, note, updated_at FROM activity WHERE domain = ? AND key = ?`,
		string(domain), key)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ActivityState{Domain: domain, Key: key}, nil
	}
	if err != nil {
		return api.ActivityState{}, fmt.Errorf("reading activity for %s/%s: %w", domain, key, err)
	}
	return row.state(), nil
}
