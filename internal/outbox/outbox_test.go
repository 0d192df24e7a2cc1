package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/record"
)

func openTestOutbox(t *testing.T) (*kv.Store, *Store) {
	t.Helper()
	kvs, err := kv.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { kvs.Close() })
	return kvs, New(kvs.DB())
}

func appendEvent(t *testing.T, kvs *kv.Store, ob *Store, ev *Event) *Event {
	t.Helper()
	ctx := context.Background()
	txn, err := kvs.Begin(ctx, kv.ReadWrite, []string{kv.OutboxStore})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := ob.Append(ctx, txn, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return ev
}

func testEvent(model, id string) *Event {
	return &Event{
		Model:   model,
		KeyPath: record.KeyPath{record.String(id)},
		Op:      OpCreate,
		Payload: []byte(`{"id":"` + id + `"}`),
		Origin:  "origin-a",
	}
}

func TestAppend_AssignsSeqAndID(t *testing.T) {
	kvs, ob := openTestOutbox(t)

	first := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	second := appendEvent(t, kvs, ob, testEvent("user", "u2"))

	if first.ID == "" || second.ID == "" {
		t.Fatal("missing event id")
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d then %d", first.Seq, second.Seq)
	}
}

func TestAppend_ScopeRequired(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	txn, err := kvs.Begin(ctx, kv.ReadWrite, []string{"user"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Rollback()
	if err := ob.Append(ctx, txn, testEvent("user", "u1")); err == nil {
		t.Fatal("expected scope error appending outside outbox scope")
	}
}

func TestNextBatch_OrderAndLimit(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		appendEvent(t, kvs, ob, testEvent("user", id))
	}

	batch, err := ob.NextBatch(ctx, 2)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len = %d, want 2", len(batch))
	}
	if batch[0].Seq >= batch[1].Seq {
		t.Error("batch not in seq order")
	}
	if batch[0].Model != "user" || batch[0].Op != OpCreate {
		t.Errorf("unexpected event %+v", batch[0])
	}
	if !batch[0].KeyPath.Equal(record.KeyPath{record.String("u1")}) {
		t.Errorf("key path = %s", batch[0].KeyPath)
	}
}

func TestMarkSynced_ExcludesFromBatch(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	ev := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	if err := ob.MarkSynced(ctx, []string{ev.ID}, time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	batch, err := ob.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("synced event still in batch")
	}
}

func TestMarkFailed_IncrementsTries(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	ev := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	if err := ob.MarkFailed(ctx, ev.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := ob.MarkFailed(ctx, ev.ID, "boom again"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	batch, err := ob.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("len = %d", len(batch))
	}
	if batch[0].Tries != 2 {
		t.Errorf("tries = %d, want 2", batch[0].Tries)
	}
	if batch[0].LastError != "boom again" {
		t.Errorf("last error = %q", batch[0].LastError)
	}
}

func TestAbandon_ExcludesFromBatch(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	ev := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	if err := ob.Abandon(ctx, []string{ev.ID}, "retry limit exceeded"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	batch, err := ob.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 0 {
		t.Error("abandoned event still in batch")
	}

	stats, err := ob.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Abandoned != 1 {
		t.Errorf("abandoned = %d", stats.Abandoned)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want abandoned event counted", stats.Failed)
	}
}

func TestStats(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	a := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	appendEvent(t, kvs, ob, testEvent("user", "u2"))
	b := appendEvent(t, kvs, ob, testEvent("user", "u3"))

	if err := ob.MarkSynced(ctx, []string{a.ID}, time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := ob.MarkFailed(ctx, b.ID, "refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	stats, err := ob.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Unsynced != 2 {
		t.Errorf("unsynced = %d, want 2", stats.Unsynced)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if stats.LastError != "refused" {
		t.Errorf("last error = %q", stats.LastError)
	}
}

func TestPrune_RemovesOldSynced(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	old := appendEvent(t, kvs, ob, testEvent("user", "u1"))
	fresh := appendEvent(t, kvs, ob, testEvent("user", "u2"))
	appendEvent(t, kvs, ob, testEvent("user", "u3"))

	now := time.Now().UTC()
	if err := ob.MarkSynced(ctx, []string{old.ID}, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := ob.MarkSynced(ctx, []string{fresh.ID}, now); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	removed, err := ob.Prune(ctx, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	recent, err := ob.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("remaining = %d, want 2", len(recent))
	}
}

func TestEvent_OldKeyPathRoundTrip(t *testing.T) {
	kvs, ob := openTestOutbox(t)
	ctx := context.Background()

	ev := testEvent("user", "u1-renamed")
	ev.Op = OpUpdate
	ev.OldKeyPath = record.KeyPath{record.String("u1")}
	appendEvent(t, kvs, ob, ev)

	batch, err := ob.NextBatch(ctx, 1)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("len = %d", len(batch))
	}
	if !batch[0].OldKeyPath.Equal(record.KeyPath{record.String("u1")}) {
		t.Errorf("old key path = %s", batch[0].OldKeyPath)
	}
}
