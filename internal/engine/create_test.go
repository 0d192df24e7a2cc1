package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
	"github.com/roach88/replica/internal/testutil"
)

func TestCreate_AppliesDefaults(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	rec := create(t, eng, "user", record.Record{
		"email": record.String("amy@example.com"),
	})

	assert.Len(t, str(rec, "id"), 36, "uuid default")
	created, ok := rec["createdAt"].(record.Time)
	require.True(t, ok, "createdAt should be a time, got %T", rec["createdAt"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), time.Time(created))
}

func TestCreate_ExplicitValuesWin(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	rec := create(t, eng, "user", record.Record{
		"id":    record.String("u-1"),
		"email": record.String("amy@example.com"),
	})
	assert.Equal(t, "u-1", str(rec, "id"))
}

func TestCreate_MissingRequiredField(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	_, err := model(t, eng, "post").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{"authorId": record.String("u-1")},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field title")
}

func TestCreate_UniqueViolation(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	create(t, eng, "user", record.Record{"email": record.String("amy@example.com")})
	_, err := model(t, eng, "user").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{"email": record.String("amy@example.com")},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsUniqueViolation(err), "got %v", err)
}

func TestCreate_PrimaryKeyCollision(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	create(t, eng, "user", record.Record{
		"id": record.String("u-1"), "email": record.String("amy@example.com"),
	})
	_, err := model(t, eng, "user").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{
			"id": record.String("u-1"), "email": record.String("bob@example.com"),
		},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsUniqueViolation(err), "got %v", err)
}

func TestCreate_ForeignKeyMissing(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	_, err := model(t, eng, "post").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{
			"title": record.String("orphan"), "authorId": record.String("nope"),
		},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsReferentialIntegrity(err), "got %v", err)
}

func TestCreate_NestedBelongsToCreate(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	post, err := model(t, eng, "post").Create(ctx, nil, &query.CreateInput{
		Data: record.Record{"title": record.String("hello")},
		Nested: map[string]*query.NestedWrite{
			"author": {Create: []*query.CreateInput{{
				Data: record.Record{
					"id": record.String("u-new"), "email": record.String("new@example.com"),
				},
			}}},
		},
	}, engine.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, "u-new", str(post, "authorId"))

	author, err := model(t, eng, "user").FindUnique(ctx, nil,
		query.UniqueWhere{"id": record.String("u-new")})
	require.NoError(t, err)
	require.NotNil(t, author)
}

func TestCreate_NestedBelongsToConnect(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()
	seedBlog(t, eng)

	post, err := model(t, eng, "post").Create(ctx, nil, &query.CreateInput{
		Data: record.Record{"title": record.String("connected")},
		Nested: map[string]*query.NestedWrite{
			"author": {Connect: []query.UniqueWhere{
				{"email": record.String("amy@example.com")},
			}},
		},
	}, engine.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, "u-amy", str(post, "authorId"))
}

func TestCreate_NestedConnectMissingTarget(t *testing.T) {
	eng, _ := testutil.NewEngine(t)

	_, err := model(t, eng, "post").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{"title": record.String("dangling")},
		Nested: map[string]*query.NestedWrite{
			"author": {Connect: []query.UniqueWhere{{"id": record.String("nope")}}},
		},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func TestCreate_NestedHasManyCreate(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	_, err := model(t, eng, "user").Create(ctx, nil, &query.CreateInput{
		Data: record.Record{
			"id": record.String("u-amy"), "email": record.String("amy@example.com"),
		},
		Nested: map[string]*query.NestedWrite{
			"posts": {Create: []*query.CreateInput{
				{Data: record.Record{"title": record.String("first")}},
				{Data: record.Record{"title": record.String("second")}},
			}},
		},
	}, engine.WriteOpts{})
	require.NoError(t, err)

	n, err := model(t, eng, "post").Count(ctx, nil, &query.Where{
		Fields: map[string]query.Pred{"authorId": query.Equals{Value: record.String("u-amy")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreate_UpdateOnlyNestedOpRejected(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	seedBlog(t, eng)

	_, err := model(t, eng, "post").Create(context.Background(), nil, &query.CreateInput{
		Data: record.Record{"title": record.String("bad")},
		Nested: map[string]*query.NestedWrite{
			"author": {Disconnect: []query.UniqueWhere{{"id": record.String("u-amy")}}},
		},
	}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsInvalidRelation(err), "got %v", err)
}

func TestWrite_ValidatorRejectsRecord(t *testing.T) {
	ctx := context.Background()
	reg, err := schema.NewRegistry(&schema.Model{
		Name: "account",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.KindString},
			{Name: "balance", Kind: schema.KindInt},
		},
		PrimaryKey: []string{"id"},
		Validator: schema.ValidatorFunc(func(rec record.Record) error {
			if bal, ok := rec["balance"].(record.Int); ok && bal < 0 {
				return errors.New("balance must not be negative")
			}
			return nil
		}),
	})
	require.NoError(t, err)
	eng := engine.New(testutil.TempStore(t), reg, engine.Options{})
	accounts := model(t, eng, "account")

	_, err = accounts.Create(ctx, nil, &query.CreateInput{Data: record.Record{
		"id": record.String("a-1"), "balance": record.Int(-5),
	}}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err), "got %v", err)

	_, err = accounts.Create(ctx, nil, &query.CreateInput{Data: record.Record{
		"id": record.String("a-1"), "balance": record.Int(10),
	}}, engine.WriteOpts{})
	require.NoError(t, err)

	_, err = accounts.Update(ctx, nil, query.UniqueWhere{"id": record.String("a-1")},
		&query.UpdateInput{Set: record.Record{"balance": record.Int(-1)}}, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err), "got %v", err)
}

func TestCreateMany_SkipDuplicates(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	ins := []*query.CreateInput{
		{Data: record.Record{"email": record.String("a@example.com")}},
		{Data: record.Record{"email": record.String("a@example.com")}},
		{Data: record.Record{"email": record.String("b@example.com")}},
	}
	n, err := model(t, eng, "user").CreateMany(ctx, nil, ins, true, engine.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := model(t, eng, "user").Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCreateMany_DuplicateFailsWholeBatch(t *testing.T) {
	eng, _ := testutil.NewEngine(t)
	ctx := context.Background()

	ins := []*query.CreateInput{
		{Data: record.Record{"email": record.String("a@example.com")}},
		{Data: record.Record{"email": record.String("a@example.com")}},
	}
	_, err := model(t, eng, "user").CreateMany(ctx, nil, ins, false, engine.WriteOpts{})
	require.Error(t, err)
	assert.True(t, engine.IsUniqueViolation(err), "got %v", err)

	total, err := model(t, eng, "user").Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, total, "failed batch must leave nothing behind")
}
