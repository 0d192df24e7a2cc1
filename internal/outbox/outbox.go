// Package outbox persists a durable log of local writes awaiting upload.
//
// Events are appended inside the same transaction as the write they
// describe, so a committed mutation and its outbox entry are inseparable.
// The sync worker later drains unsynced entries in seq order, marking each
// synced, failed, or abandoned.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/record"
)

// Op names the write an event describes.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one captured write.
type Event struct {
	// Seq is assigned by the store on append and orders the log.
	Seq int64
	// ID is a globally unique event id, used for server-side dedup and
	// echo suppression.
	ID      string
	Model   string
	KeyPath record.KeyPath
	// OldKeyPath is set on updates that changed the primary key.
	OldKeyPath record.KeyPath
	Op         Op
	// Payload is the canonical JSON encoding of the post-write record,
	// nil for deletes.
	Payload   json.RawMessage
	CreatedAt time.Time
	// Tries counts failed upload attempts.
	Tries     int
	LastError string
	Synced    bool
	SyncedAt  *time.Time
	Abandoned bool
	// Origin identifies the replica that produced the event.
	Origin string
}

// Stats summarises outbox health for the status surface.
type Stats struct {
	Unsynced  int
	Failed    int
	Abandoned int
	LastError string
}

// Store reads and updates the outbox table. Appends go through an open
// transaction; drain-side operations run on their own connections.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes ev within txn. The transaction scope must include the
// outbox store. ID and CreatedAt are filled when zero.
func (s *Store) Append(ctx context.Context, txn *kv.Txn, ev *Event) error {
	if err := txn.Require(kv.OutboxStore, true); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	key, err := ev.KeyPath.Encode()
	if err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	var oldKey sql.NullString
	if len(ev.OldKeyPath) > 0 {
		enc, err := ev.OldKeyPath.Encode()
		if err != nil {
			return fmt.Errorf("outbox append: %w", err)
		}
		oldKey = sql.NullString{String: enc, Valid: true}
	}
	var payload any
	if ev.Payload != nil {
		payload = string(ev.Payload)
	}
	res, err := txn.SQL().ExecContext(ctx, `
		INSERT INTO outbox_events (id, model, key_path, old_key_path, op, payload, created_at, origin_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Model, key, oldKey, string(ev.Op), payload,
		ev.CreatedAt.Format(time.RFC3339Nano), ev.Origin)
	if err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	ev.Seq = seq
	return nil
}

const eventColumns = `seq, id, model, key_path, old_key_path, op, payload,
	created_at, tries, last_error, synced, synced_at, abandoned, origin_id`

// NextBatch returns up to limit unsynced, non-abandoned events in seq
// order.
func (s *Store) NextBatch(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE synced = 0 AND abandoned = 0
		ORDER BY seq ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox batch: %w", err)
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkSynced flags events as uploaded.
func (s *Store) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox_events SET synced = 1, synced_at = ?, last_error = NULL
		WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox mark synced: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt, incrementing the retry counter.
func (s *Store) MarkFailed(ctx context.Context, id string, msg string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET tries = tries + 1, last_error = ?
		WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("outbox mark failed: %w", err)
	}
	return nil
}

// Abandon permanently retires events that exhausted their retries.
func (s *Store) Abandon(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox_events SET abandoned = 1, last_error = ?
		WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, reason)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox abandon: %w", err)
	}
	return nil
}

// Stats reports unsynced, failed, and abandoned counts plus the most
// recent error message. Abandoned events count as failed too: abandonment
// is the terminal failure state, not a recovery from it.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE synced = 0 AND abandoned = 0),
			COUNT(*) FILTER (WHERE synced = 0 AND (tries > 0 OR abandoned = 1)),
			COUNT(*) FILTER (WHERE abandoned = 1)
		FROM outbox_events`)
	if err := row.Scan(&st.Unsynced, &st.Failed, &st.Abandoned); err != nil {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	var lastErr sql.NullString
	row = s.db.QueryRowContext(ctx, `
		SELECT last_error FROM outbox_events
		WHERE last_error IS NOT NULL
		ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&lastErr); err != nil && err != sql.ErrNoRows {
		return Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	st.LastError = lastErr.String
	return st, nil
}

// Recent returns the newest events first, for inspection tooling.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox recent: %w", err)
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes synced events older than age. Returns the number removed.
func (s *Store) Prune(ctx context.Context, age time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-age).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE synced = 1 AND synced_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox prune: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		ev        Event
		keyPath   string
		oldKey    sql.NullString
		op        string
		payload   sql.NullString
		createdAt string
		lastErr   sql.NullString
		syncedAt  sql.NullString
	)
	if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Model, &keyPath, &oldKey, &op,
		&payload, &createdAt, &ev.Tries, &lastErr, &ev.Synced, &syncedAt,
		&ev.Abandoned, &ev.Origin); err != nil {
		return nil, fmt.Errorf("outbox scan: %w", err)
	}
	kp, err := record.ParseKeyPath(keyPath)
	if err != nil {
		return nil, fmt.Errorf("outbox scan key: %w", err)
	}
	ev.KeyPath = kp
	if oldKey.Valid {
		okp, err := record.ParseKeyPath(oldKey.String)
		if err != nil {
			return nil, fmt.Errorf("outbox scan old key: %w", err)
		}
		ev.OldKeyPath = okp
	}
	ev.Op = Op(op)
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("outbox scan created_at: %w", err)
	}
	ev.LastError = lastErr.String
	if syncedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, syncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("outbox scan synced_at: %w", err)
		}
		ev.SyncedAt = &t
	}
	return &ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
