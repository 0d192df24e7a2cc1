package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Mode selects a transaction's access mode. Read transactions reject
// writes; ReadWrite transactions allow both.
type Mode int

const (
	Read Mode = iota
	ReadWrite
)

// OutboxStore is the reserved store name the planner includes when a
// tracked model's mutation will append to the outbox.
const OutboxStore = "_outbox"

// ErrKeyExists is returned by Insert and PutUnique when the key or unique
// value is already taken.
var ErrKeyExists = errors.New("kv: key already exists")

// ScopeError reports an access to a store outside the transaction's
// declared scope, or a write in a read-only transaction. It indicates a
// planner bug, not a data condition.
type ScopeError struct {
	Store string
	Write bool
}

func (e *ScopeError) Error() string {
	if e.Write {
		return fmt.Sprintf("kv: write to store %q outside transaction scope", e.Store)
	}
	return fmt.Sprintf("kv: read of store %q outside transaction scope", e.Store)
}

// Entry is one scanned record row.
type Entry struct {
	Key   string
	Value []byte
}

// Txn is a transaction over an explicit set of stores.
type Txn struct {
	tx       *sql.Tx
	mode     Mode
	scope    map[string]bool
	done     bool
	onCommit []func()
}

// Require checks that the store is in scope and, for writes, that the
// transaction is writable.
func (t *Txn) Require(store string, write bool) error {
	if !t.scope[store] {
		return &ScopeError{Store: store, Write: write}
	}
	if write && t.mode != ReadWrite {
		return &ScopeError{Store: store, Write: true}
	}
	return nil
}

// InScope reports whether a store is inside the transaction scope.
func (t *Txn) InScope(store string) bool { return t.scope[store] }

// Get fetches one record blob.
func (t *Txn) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	if err := t.Require(store, false); err != nil {
		return nil, false, err
	}
	var value []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT value FROM records WHERE store = ? AND key = ?`, store, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %s/%s: %w", store, key, err)
	}
	return value, true, nil
}

// Insert adds a record, failing with ErrKeyExists when the key is taken.
func (t *Txn) Insert(ctx context.Context, store, key string, value []byte) error {
	if err := t.Require(store, true); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (store, key, value) VALUES (?, ?, ?)
		ON CONFLICT (store, key) DO NOTHING
	`, store, key, value)
	if err != nil {
		return fmt.Errorf("kv: insert %s/%s: %w", store, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kv: insert %s/%s: rows affected: %w", store, key, err)
	}
	if n == 0 {
		return ErrKeyExists
	}
	return nil
}

// Put upserts a record.
func (t *Txn) Put(ctx context.Context, store, key string, value []byte) error {
	if err := t.Require(store, true); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (store, key, value) VALUES (?, ?, ?)
		ON CONFLICT (store, key) DO UPDATE SET value = excluded.value
	`, store, key, value)
	if err != nil {
		return fmt.Errorf("kv: put %s/%s: %w", store, key, err)
	}
	return nil
}

// Delete removes a record, reporting whether it existed.
func (t *Txn) Delete(ctx context.Context, store, key string) (bool, error) {
	if err := t.Require(store, true); err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM records WHERE store = ? AND key = ?`, store, key)
	if err != nil {
		return false, fmt.Errorf("kv: delete %s/%s: %w", store, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv: delete %s/%s: rows affected: %w", store, key, err)
	}
	return n > 0, nil
}

// Scan returns every record of a store ordered by key.
func (t *Txn) Scan(ctx context.Context, store string) ([]Entry, error) {
	if err := t.Require(store, false); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT key, value FROM records WHERE store = ? ORDER BY key ASC`, store)
	if err != nil {
		return nil, fmt.Errorf("kv: scan %s: %w", store, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("kv: scan %s: %w", store, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: scan %s: %w", store, err)
	}
	return entries, nil
}

// PutUnique claims a unique-index value for a record key. Claiming a value
// held by a different key fails with ErrKeyExists; re-claiming by the same
// key is a no-op.
func (t *Txn) PutUnique(ctx context.Context, store, idx, val, key string) error {
	if err := t.Require(store, true); err != nil {
		return err
	}
	existing, ok, err := t.GetUnique(ctx, store, idx, val)
	if err != nil {
		return err
	}
	if ok {
		if existing == key {
			return nil
		}
		return ErrKeyExists
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO unique_entries (store, idx, val, key) VALUES (?, ?, ?, ?)
	`, store, idx, val, key)
	if err != nil {
		return fmt.Errorf("kv: put unique %s/%s: %w", store, idx, err)
	}
	return nil
}

// DeleteUnique releases a unique-index value.
func (t *Txn) DeleteUnique(ctx context.Context, store, idx, val string) error {
	if err := t.Require(store, true); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM unique_entries WHERE store = ? AND idx = ? AND val = ?`,
		store, idx, val)
	if err != nil {
		return fmt.Errorf("kv: delete unique %s/%s: %w", store, idx, err)
	}
	return nil
}

// GetUnique resolves a unique-index value to its record key.
func (t *Txn) GetUnique(ctx context.Context, store, idx, val string) (string, bool, error) {
	if err := t.Require(store, false); err != nil {
		return "", false, err
	}
	var key string
	err := t.tx.QueryRowContext(ctx,
		`SELECT key FROM unique_entries WHERE store = ? AND idx = ? AND val = ?`,
		store, idx, val,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get unique %s/%s: %w", store, idx, err)
	}
	return key, true, nil
}

// NextSeq returns the next value of a per-(store, field) counter, starting
// at 1.
func (t *Txn) NextSeq(ctx context.Context, store, field string) (int64, error) {
	if err := t.Require(store, true); err != nil {
		return 0, err
	}
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO counters (store, field, next) VALUES (?, ?, 1)
		ON CONFLICT (store, field) DO UPDATE SET next = next + 1
		RETURNING next
	`, store, field).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("kv: next seq %s.%s: %w", store, field, err)
	}
	return next, nil
}

// SQL exposes the underlying transaction for the outbox table. Callers
// must Require(OutboxStore, ...) first.
func (t *Txn) SQL() *sql.Tx { return t.tx }

// OnCommit registers a callback invoked after a successful Commit. Used to
// defer event publication until the data change is durable.
func (t *Txn) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Commit commits the transaction and runs registered callbacks.
func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit (no-op).
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("kv: rollback: %w", err)
	}
	return nil
}
