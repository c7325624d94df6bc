/*
Package sqlite provides a SQLite-backed implementation of meter.Store.

PURPOSE:
  Persists meter definitions, their append-only ledgers and the latest
  checkpoint per meter, so the server can restart and resume every meter
  from its last saved value.

KEY TABLES:
  meters:        Meter definitions, one row per meter
  meter_entries: Append-only ledger of spend/refund attempts
  checkpoints:   Latest value per meter, upserted

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on meter_entries
  - Entries survive DeleteMeter so the history stays auditable

IDEMPOTENCY:
  meter_entries.idempotency_key is UNIQUE. Empty keys are stored as NULL,
  which SQLite never treats as equal, so keyless entries never collide.

TIMESTAMPS:
  Stored as fixed-width UTC text (nanosecond precision) so lexical order
  matches chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WAL mode lets readers proceed while
  a write is in flight.

USAGE:
  store, err := sqlite.New("./data/regen.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := meter.NewService(store)

SEE ALSO:
  - meter/store.go:        Interface definition
  - meter/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/regen-engine/meter"
	"github.com/warp/regen-engine/timed"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements meter.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// dsn appends the connection options, keeping any query the caller already
// put on a file: URI.
func dsn(dbPath string) string {
	const opts = "_foreign_keys=on&_journal_mode=WAL"
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + opts
	}
	return dbPath + "?" + opts
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Meter definitions
	CREATE TABLE IF NOT EXISTS meters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		init_value INTEGER NOT NULL,
		max_value INTEGER NOT NULL,
		min_value INTEGER NOT NULL,
		step INTEGER NOT NULL,
		interval_ns INTEGER NOT NULL,
		direction TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_meters_created_at
		ON meters(created_at);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS meter_entries (
		id TEXT PRIMARY KEY,
		meter_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		accepted BOOLEAN NOT NULL,
		value_after INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Newest-first ledger reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_meter_entries_meter_date
		ON meter_entries(meter_id, created_at DESC);

	-- Checkpoints (one row per meter)
	CREATE TABLE IF NOT EXISTS checkpoints (
		meter_id TEXT PRIMARY KEY REFERENCES meters(id) ON DELETE CASCADE,
		value INTEGER NOT NULL,
		taken_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// METERS
// =============================================================================

// SaveMeter inserts a meter or replaces its definition.
func (s *Store) SaveMeter(ctx context.Context, m meter.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO meters
		(id, name, init_value, max_value, min_value, step, interval_ns, direction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			init_value = excluded.init_value,
			max_value = excluded.max_value,
			min_value = excluded.min_value,
			step = excluded.step,
			interval_ns = excluded.interval_ns,
			direction = excluded.direction
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.Name,
		m.Config.Init,
		m.Config.Max,
		m.Config.Min,
		m.Config.Step,
		int64(m.Config.Interval),
		string(m.Config.Type),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save meter: %w", err)
	}
	return nil
}

// GetMeter retrieves a meter by ID.
func (s *Store) GetMeter(ctx context.Context, id string) (meter.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, init_value, max_value, min_value, step, interval_ns, direction, created_at
		FROM meters WHERE id = ?
	`

	m, err := scanMeter(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return meter.Meter{}, &meter.NotFoundError{MeterID: id}
	}
	return m, err
}

// ListMeters returns all meters, oldest first.
func (s *Store) ListMeters(ctx context.Context) ([]meter.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, init_value, max_value, min_value, step, interval_ns, direction, created_at
		FROM meters
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query meters: %w", err)
	}
	defer rows.Close()

	var meters []meter.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		meters = append(meters, m)
	}
	return meters, rows.Err()
}

// DeleteMeter removes the meter; its checkpoint goes with it via the
// foreign key. Ledger entries are kept.
func (s *Store) DeleteMeter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM meters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete meter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete meter: %w", err)
	}
	if n == 0 {
		return &meter.NotFoundError{MeterID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeter(row rowScanner) (meter.Meter, error) {
	var (
		m          meter.Meter
		intervalNs int64
		direction  string
		createdAt  string
	)

	err := row.Scan(
		&m.ID, &m.Name,
		&m.Config.Init, &m.Config.Max, &m.Config.Min, &m.Config.Step,
		&intervalNs, &direction, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("failed to scan meter: %w", err)
	}

	m.Config.Interval = time.Duration(intervalNs)
	m.Config.Type = timed.Direction(direction)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// =============================================================================
// LEDGER
// =============================================================================

// AppendEntry adds an entry to the ledger.
func (s *Store) AppendEntry(ctx context.Context, e meter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO meter_entries
		(id, meter_id, entry_type, amount, accepted, value_after, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.MeterID,
		string(e.Type),
		e.Amount,
		e.Accepted,
		e.ValueAfter,
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return meter.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// LoadEntries returns a meter's entries, newest first.
func (s *Store) LoadEntries(ctx context.Context, meterID string, limit int) ([]meter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, meter_id, entry_type, amount, accepted, value_after, idempotency_key, created_at
		FROM meter_entries
		WHERE meter_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{meterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []meter.Entry{}
	for rows.Next() {
		var (
			e         meter.Entry
			entryType string
			key       sql.NullString
			createdAt string
		)
		err := rows.Scan(&e.ID, &e.MeterID, &entryType, &e.Amount, &e.Accepted, &e.ValueAfter, &key, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Type = meter.EntryType(entryType)
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// KeyExists checks if an idempotency key exists.
func (s *Store) KeyExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM meter_entries WHERE idempotency_key = ?",
		key,
	).Scan(&count)

	return count > 0, err
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

// SaveCheckpoint upserts the latest value for a meter.
func (s *Store) SaveCheckpoint(ctx context.Context, cp meter.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO checkpoints (meter_id, value, taken_at)
		VALUES (?, ?, ?)
		ON CONFLICT(meter_id) DO UPDATE SET
			value = excluded.value,
			taken_at = excluded.taken_at
	`

	_, err := s.db.ExecContext(ctx, query, cp.MeterID, cp.Value, formatTime(cp.TakenAt))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns nil when the meter has never been checkpointed.
func (s *Store) LoadCheckpoint(ctx context.Context, meterID string) (*meter.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		cp      meter.Checkpoint
		takenAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT meter_id, value, taken_at FROM checkpoints WHERE meter_id = ?",
		meterID,
	).Scan(&cp.MeterID, &cp.Value, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	cp.TakenAt = parseTime(takenAt)
	return &cp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ meter.Store = (*Store)(nil)
