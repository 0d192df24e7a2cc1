package plan_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replica/internal/plan"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/testutil"
)

// TestScopes_Golden snapshots the planned store scope for one operation of
// each kind over the blog fixture. The scope is what Begin locks, so a
// change here means a change in transaction footprint.
func TestScopes_Golden(t *testing.T) {
	p := plan.New(testutil.Registry(t))

	findArgs := &query.FindArgs{
		Where: &query.Where{
			Relations: map[string]*query.RelationCond{
				"author": {Is: &query.Where{
					Fields: map[string]query.Pred{
						"name": query.Equals{Value: record.String("amy")},
					},
				}},
			},
		},
		Include: query.Include{"comments": nil},
	}

	var buf bytes.Buffer
	emit := func(name string, stores []string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		fmt.Fprintf(&buf, "%s: %s\n", name, strings.Join(stores, " "))
	}

	stores, err := p.FindScope("post", findArgs)
	emit("find post by author with comments", stores, err)

	stores, err = p.CreateScope("post", nil, true)
	emit("create post with outbox", stores, err)

	stores, err = p.UpdateScope("user", nil, true)
	emit("update user with outbox", stores, err)

	stores, err = p.UpsertScope("post", nil, nil, true)
	emit("upsert post with outbox", stores, err)

	stores, err = p.DeleteScope("comment", false)
	emit("delete comment", stores, err)

	stores, err = p.DeleteScope("user", true)
	emit("delete user with outbox", stores, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scopes", buf.Bytes())
}

func TestFindScope_UnknownModel(t *testing.T) {
	p := plan.New(testutil.Registry(t))
	if _, err := p.FindScope("nope", nil); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestDeleteScope_UntrackedClosureSkipsOutbox(t *testing.T) {
	p := plan.New(testutil.Registry(t))

	// Comments are untracked and have no dependents: even with capture
	// enabled there is nothing to append, so the outbox stays out of scope.
	stores, err := p.DeleteScope("comment", true)
	if err != nil {
		t.Fatalf("DeleteScope: %v", err)
	}
	if got := strings.Join(stores, " "); got != "comment" {
		t.Errorf("scope = %q, want %q", got, "comment")
	}
}

func TestCreateScope_NestedWrites(t *testing.T) {
	p := plan.New(testutil.Registry(t))

	in := &query.CreateInput{
		Data: record.Record{"email": record.String("amy@example.com")},
		Nested: map[string]*query.NestedWrite{
			"posts": {Create: []*query.CreateInput{
				{Data: record.Record{"title": record.String("hello")}},
			}},
		},
	}
	stores, err := p.CreateScope("user", in, false)
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	want := "post user"
	if got := strings.Join(stores, " "); got != want {
		t.Errorf("scope = %q, want %q", got, want)
	}
}
