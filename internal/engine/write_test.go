package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/testutil"
)

func TestWrite_OutboxCapture(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()
	users := model(t, eng, "user")

	create(t, eng, "user", record.Record{
		"id": record.String("u-1"), "email": record.String("a@example.com"),
	})
	_, err := users.Update(ctx, nil,
		query.UniqueWhere{"id": record.String("u-1")},
		&query.UpdateInput{Set: record.Record{"name": record.String("Ann")}},
		engine.WriteOpts{})
	require.NoError(t, err)
	_, err = users.Delete(ctx, nil,
		query.UniqueWhere{"id": record.String("u-1")}, engine.WriteOpts{})
	require.NoError(t, err)

	batch, err := eng.Outbox().NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, outbox.OpCreate, batch[0].Op)
	assert.Equal(t, outbox.OpUpdate, batch[1].Op)
	assert.Equal(t, outbox.OpDelete, batch[2].Op)
	for _, ev := range batch {
		assert.Equal(t, "user", ev.Model)
		assert.Equal(t, "test-origin", ev.Origin)
		assert.True(t, ev.KeyPath.Equal(record.KeyPath{record.String("u-1")}))
	}
	assert.NotNil(t, batch[0].Payload)
	assert.NotNil(t, batch[1].Payload)
	assert.Nil(t, batch[2].Payload)
}

func TestWrite_UntrackedModelSkipsOutbox(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()
	seedBlog(t, eng)

	batch, err := eng.Outbox().NextBatch(ctx, 100)
	require.NoError(t, err)
	for _, ev := range batch {
		assert.NotEqual(t, "comment", ev.Model, "comments are not tracked")
	}
}

func TestWrite_SkipOutbox(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	_, err := model(t, eng, "user").Create(ctx, nil, &query.CreateInput{
		Data: record.Record{"email": record.String("a@example.com")},
	}, engine.WriteOpts{SkipOutbox: true})
	require.NoError(t, err)

	batch, err := eng.Outbox().NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestWrite_EventsPublishAfterCommit(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	var got []events.Event
	eng.Bus().Subscribe("user", func(ev events.Event) { got = append(got, ev) })

	rec := create(t, eng, "user", record.Record{
		"id": record.String("u-1"), "email": record.String("a@example.com"),
	})

	require.Len(t, got, 1)
	assert.Equal(t, events.Created, got[0].Kind)
	assert.Equal(t, "user", got[0].Model)
	assert.True(t, got[0].Key.Equal(record.KeyPath{record.String("u-1")}))
	assert.Equal(t, rec["email"], got[0].Record["email"])

	// The published record is a copy; mutating it must not leak back.
	got[0].Record["email"] = record.String("tampered")
	fresh, err := model(t, eng, "user").FindUnique(ctx, nil,
		query.UniqueWhere{"id": record.String("u-1")})
	require.NoError(t, err)
	assert.Equal(t, record.String("a@example.com"), fresh["email"])
}

func TestWrite_SilentSuppressesEvents(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	fired := 0
	eng.Bus().Subscribe("user", func(events.Event) { fired++ })

	_, err := model(t, eng, "user").Create(ctx, nil, &query.CreateInput{
		Data: record.Record{"email": record.String("a@example.com")},
	}, engine.WriteOpts{Silent: true})
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// Silent writes still hit the outbox.
	batch, err := eng.Outbox().NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestWrite_RolledBackTxnPublishesNothing(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	fired := 0
	eng.Bus().Subscribe("user", func(events.Event) { fired++ })

	txn, err := eng.Begin(ctx, kv.ReadWrite, []string{"user", kv.OutboxStore})
	require.NoError(t, err)
	_, err = model(t, eng, "user").Create(ctx, txn, &query.CreateInput{
		Data: record.Record{"email": record.String("a@example.com")},
	}, engine.WriteOpts{})
	require.NoError(t, err)
	require.NoError(t, txn.Rollback())

	assert.Equal(t, 0, fired)

	batch, err := eng.Outbox().NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch, "rolled back writes leave no outbox entries")
}

func TestWrite_RenameRewritesSilently(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()
	seedBlog(t, eng)

	var postEvents []events.Event
	eng.Bus().Subscribe("post", func(ev events.Event) { postEvents = append(postEvents, ev) })

	_, err := model(t, eng, "user").Update(ctx, nil,
		query.UniqueWhere{"id": record.String("u-amy")},
		&query.UpdateInput{Set: record.Record{"id": record.String("u-amy2")}},
		engine.WriteOpts{})
	require.NoError(t, err)

	assert.Empty(t, postEvents, "foreign-key rewrites must not publish")
}
