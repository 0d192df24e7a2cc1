package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
)

func model(t *testing.T, eng *engine.Engine, name string) *engine.ModelEngine {
	t.Helper()
	me, err := eng.Model(name)
	require.NoError(t, err)
	return me
}

func create(t *testing.T, eng *engine.Engine, name string, data record.Record) record.Record {
	t.Helper()
	rec, err := model(t, eng, name).Create(context.Background(), nil,
		&query.CreateInput{Data: data}, engine.WriteOpts{})
	require.NoError(t, err)
	return rec
}

func str(rec record.Record, field string) string {
	s, _ := rec[field].(record.String)
	return string(s)
}

// seedBlog creates two users with posts: amy has two posts, bob one, and
// amy's first post carries a comment.
func seedBlog(t *testing.T, eng *engine.Engine) {
	t.Helper()
	create(t, eng, "user", record.Record{
		"id": record.String("u-amy"), "email": record.String("amy@example.com"),
		"name": record.String("Amy"),
	})
	create(t, eng, "user", record.Record{
		"id": record.String("u-bob"), "email": record.String("bob@example.com"),
		"name": record.String("Bob"),
	})
	create(t, eng, "post", record.Record{
		"id": record.String("p-1"), "title": record.String("Go generics"),
		"views": record.Int(10), "authorId": record.String("u-amy"),
	})
	create(t, eng, "post", record.Record{
		"id": record.String("p-2"), "title": record.String("Go modules"),
		"views": record.Int(3), "authorId": record.String("u-amy"),
	})
	create(t, eng, "post", record.Record{
		"id": record.String("p-3"), "title": record.String("Rust and Go"),
		"authorId": record.String("u-bob"),
	})
	create(t, eng, "comment", record.Record{
		"id": record.String("c-1"), "body": record.String("nice"),
		"postId": record.String("p-1"),
	})
}

func titles(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = str(r, "title")
	}
	return out
}
