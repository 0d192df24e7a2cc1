package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/schema"
)

// Registry builds the blog-shaped model set used across tests:
//
//	user   <-has many-  post   <-has many-  comment
//
// Posts cascade when their author is deleted; comments restrict deleting
// their post. Users and posts are tracked; comments are not.
func Registry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.Model{
			Name: "user",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindString, Default: schema.DefaultUUID},
				{Name: "email", Kind: schema.KindString},
				{Name: "name", Kind: schema.KindString, Optional: true},
				{Name: "createdAt", Kind: schema.KindTime, Default: schema.DefaultNow},
			},
			PrimaryKey: []string{"id"},
			Uniques:    [][]string{{"email"}},
			Relations: []schema.Relation{
				{Name: "posts", Target: "post", Kind: schema.HasMany,
					Fields: []string{"authorId"}, References: []string{"id"}},
			},
			Tracked: true,
		},
		&schema.Model{
			Name: "post",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindString, Default: schema.DefaultUUID},
				{Name: "title", Kind: schema.KindString},
				{Name: "views", Kind: schema.KindInt, Optional: true},
				{Name: "authorId", Kind: schema.KindString},
			},
			PrimaryKey: []string{"id"},
			Relations: []schema.Relation{
				{Name: "author", Target: "user", Kind: schema.BelongsTo,
					Fields: []string{"authorId"}, References: []string{"id"},
					OnDelete: schema.Cascade},
				{Name: "comments", Target: "comment", Kind: schema.HasMany,
					Fields: []string{"postId"}, References: []string{"id"}},
			},
			Tracked: true,
		},
		&schema.Model{
			Name: "comment",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindString, Default: schema.DefaultUUID},
				{Name: "body", Kind: schema.KindString},
				{Name: "postId", Kind: schema.KindString},
			},
			PrimaryKey: []string{"id"},
			Relations: []schema.Relation{
				{Name: "post", Target: "post", Kind: schema.BelongsTo,
					Fields: []string{"postId"}, References: []string{"id"},
					OnDelete: schema.Restrict},
			},
		},
	)
	if err != nil {
		t.Fatalf("building test registry: %v", err)
	}
	return reg
}

// TempStore opens a store in a per-test temporary directory, closed on
// cleanup.
func TempStore(t testing.TB) *kv.Store {
	t.Helper()
	store, err := kv.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewEngine builds an engine over a temp store with the test registry and
// a deterministic clock.
func NewEngine(t testing.TB) (*engine.Engine, *DeterministicClock) {
	t.Helper()
	clock := NewDeterministicClock()
	eng := engine.New(TempStore(t), Registry(t), engine.Options{
		Origin: "test-origin",
		Now:    clock.Tick,
	})
	return eng, clock
}
