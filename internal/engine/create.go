package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// Create inserts one record, resolving defaults and nested relation
// writes. Fails with a unique-violation error when the primary key or a
// unique tuple is taken, and a referential-integrity error when a foreign
// key resolves to nothing.
func (me *ModelEngine) Create(ctx context.Context, txn *kv.Txn, in *query.CreateInput, opts WriteOpts) (record.Record, error) {
	if in == nil {
		return nil, invalidArgument(me.model.Name, "nil create input")
	}
	scope, err := me.engine.planner.CreateScope(me.model.Name, in, !opts.SkipOutbox)
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	var out record.Record
	err = me.withTxn(ctx, txn, kv.ReadWrite, scope, func(txn *kv.Txn) error {
		out, err = me.create(ctx, txn, in, opts)
		return err
	})
	return out, err
}

// CreateMany inserts records in order inside one transaction. When
// skipDuplicates is set, records whose primary key or unique tuples are
// already taken are skipped instead of failing the batch. Returns the
// number inserted.
func (me *ModelEngine) CreateMany(ctx context.Context, txn *kv.Txn, ins []*query.CreateInput, skipDuplicates bool, opts WriteOpts) (int, error) {
	recs, err := me.createMany(ctx, txn, ins, skipDuplicates, opts)
	return len(recs), err
}

// CreateManyAndReturn is CreateMany, returning the inserted records.
func (me *ModelEngine) CreateManyAndReturn(ctx context.Context, txn *kv.Txn, ins []*query.CreateInput, skipDuplicates bool, opts WriteOpts) ([]record.Record, error) {
	return me.createMany(ctx, txn, ins, skipDuplicates, opts)
}

func (me *ModelEngine) createMany(ctx context.Context, txn *kv.Txn, ins []*query.CreateInput, skipDuplicates bool, opts WriteOpts) ([]record.Record, error) {
	scope := map[string]bool{}
	for _, in := range ins {
		s, err := me.engine.planner.CreateScope(me.model.Name, in, !opts.SkipOutbox)
		if err != nil {
			return nil, invalidArgument(me.model.Name, err.Error())
		}
		for _, store := range s {
			scope[store] = true
		}
	}
	stores := make([]string, 0, len(scope))
	for store := range scope {
		stores = append(stores, store)
	}

	var out []record.Record
	err := me.withTxn(ctx, txn, kv.ReadWrite, stores, func(txn *kv.Txn) error {
		for _, in := range ins {
			rec, err := me.create(ctx, txn, in, opts)
			if err != nil {
				if skipDuplicates && IsUniqueViolation(err) {
					continue
				}
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// create runs the insert pipeline inside an open transaction.
func (me *ModelEngine) create(ctx context.Context, txn *kv.Txn, in *query.CreateInput, opts WriteOpts) (record.Record, error) {
	m := me.model
	rec, err := schema.CoerceRecord(m, in.Data)
	if err != nil {
		return nil, invalidArgument(m.Name, err.Error())
	}
	rec = rec.Clone()
	if err := me.applyDefaults(ctx, txn, rec); err != nil {
		return nil, err
	}

	// BelongsTo nested writes run first so they can set foreign keys
	// before the required-field check.
	deferred, err := me.applyNestedCreate(ctx, txn, rec, in.Nested, opts)
	if err != nil {
		return nil, err
	}
	if err := me.checkRequired(rec); err != nil {
		return nil, err
	}
	if err := me.checkForeignKeys(ctx, txn, rec); err != nil {
		return nil, err
	}
	if m.Validator != nil {
		if err := m.Validator.Validate(rec); err != nil {
			return nil, validation(m.Name, m.KeyPathOf(rec), err)
		}
	}

	key, err := m.KeyOf(rec)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	// Unique tuples are pre-checked so a duplicate fails before any write
	// lands, keeping skip-duplicates batches clean.
	if err := me.checkUniquesFree(ctx, txn, rec, key); err != nil {
		return nil, err
	}

	data, err := record.MarshalValue(rec)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	if err := txn.Insert(ctx, m.Name, key, data); err != nil {
		if errors.Is(err, kv.ErrKeyExists) {
			return nil, uniqueViolation(m.Name, m.KeyPathOf(rec), "primary key")
		}
		return nil, storage(m.Name, err)
	}
	if err := me.putUniques(ctx, txn, rec, key); err != nil {
		return nil, err
	}

	// Has-side nested writes need the parent stored first.
	for _, fn := range deferred {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	if err := me.afterWrite(ctx, txn, events.Created, rec, m.KeyPathOf(rec), nil, opts); err != nil {
		return nil, err
	}
	return rec, nil
}

// applyNestedCreate applies BelongsTo nested writes immediately and
// returns deferred closures for has-side writes, which require the parent
// record to exist.
func (me *ModelEngine) applyNestedCreate(ctx context.Context, txn *kv.Txn, rec record.Record, nested map[string]*query.NestedWrite, opts WriteOpts) ([]func() error, error) {
	m := me.model
	var deferred []func() error
	for _, name := range sortedNestedNames(nested) {
		nw := nested[name]
		rel := m.Relation(name)
		if rel == nil {
			return nil, invalidArgument(m.Name, "unknown relation "+name)
		}
		if nw == nil {
			continue
		}
		if len(nw.Update) > 0 || len(nw.Upsert) > 0 || len(nw.Delete) > 0 ||
			len(nw.Disconnect) > 0 || nw.SetPresent {
			return nil, invalidRelation(m.Name, "relation operation not valid inside create: "+name)
		}
		if rel.Kind == schema.BelongsTo {
			if err := me.nestedBelongsTo(ctx, txn, rec, rel, nw, opts); err != nil {
				return nil, err
			}
			continue
		}
		deferred = append(deferred, func() error {
			return me.nestedHasSide(ctx, txn, rec, rel, nw, opts)
		})
	}
	return deferred, nil
}

// nestedBelongsTo resolves a to-one nested write on the owning side and
// sets the foreign key on rec.
func (me *ModelEngine) nestedBelongsTo(ctx context.Context, txn *kv.Txn, rec record.Record, rel *schema.Relation, nw *query.NestedWrite, opts WriteOpts) error {
	m := me.model
	tme := me.engine.models[rel.Target]
	if countOps(nw) > 1 {
		return invalidRelation(m.Name, "multiple writes on to-one relation "+rel.Name)
	}

	var target record.Record
	switch {
	case len(nw.Connect) == 1:
		t, err := tme.findUnique(ctx, txn, nw.Connect[0])
		if err != nil {
			return err
		}
		if t == nil {
			return notFound(rel.Target, nil)
		}
		target = t
	case len(nw.ConnectOrCreate) == 1:
		coc := nw.ConnectOrCreate[0]
		t, err := tme.findUnique(ctx, txn, coc.Where)
		if err != nil {
			return err
		}
		if t == nil {
			t, err = tme.create(ctx, txn, coc.Create, opts)
			if err != nil {
				return err
			}
		}
		target = t
	case len(nw.Create) == 1:
		t, err := tme.create(ctx, txn, nw.Create[0], opts)
		if err != nil {
			return err
		}
		target = t
	default:
		return nil
	}

	for i, f := range rel.Fields {
		rec[f] = target[rel.References[i]]
	}
	return nil
}

// nestedHasSide applies nested writes where the target holds the foreign
// key, pointing each child at rec.
func (me *ModelEngine) nestedHasSide(ctx context.Context, txn *kv.Txn, rec record.Record, rel *schema.Relation, nw *query.NestedWrite, opts WriteOpts) error {
	m := me.model
	tme := me.engine.models[rel.Target]
	if rel.Kind == schema.HasOne && len(nw.Create)+len(nw.Connect)+len(nw.ConnectOrCreate) > 1 {
		return invalidRelation(m.Name, "multiple writes on to-one relation "+rel.Name)
	}

	fk := make(record.Record, len(rel.Fields))
	for i, f := range rel.Fields {
		fk[f] = rec[rel.References[i]]
	}

	for _, ci := range nw.Create {
		child := &query.CreateInput{Data: ci.Data.Clone(), Nested: ci.Nested}
		if child.Data == nil {
			child.Data = record.Record{}
		}
		for f, v := range fk {
			child.Data[f] = v
		}
		if _, err := tme.create(ctx, txn, child, opts); err != nil {
			return err
		}
	}
	for _, uw := range nw.Connect {
		if err := tme.connectTo(ctx, txn, uw, fk, opts); err != nil {
			return err
		}
	}
	for _, coc := range nw.ConnectOrCreate {
		t, err := tme.findUnique(ctx, txn, coc.Where)
		if err != nil {
			return err
		}
		if t == nil {
			child := &query.CreateInput{Data: coc.Create.Data.Clone(), Nested: coc.Create.Nested}
			if child.Data == nil {
				child.Data = record.Record{}
			}
			for f, v := range fk {
				child.Data[f] = v
			}
			_, err = tme.create(ctx, txn, child, opts)
			if err != nil {
				return err
			}
			continue
		}
		if err := tme.connectTo(ctx, txn, query.UniqueWhere(uniqueOf(tme.model, t)), fk, opts); err != nil {
			return err
		}
	}
	return nil
}

// connectTo points the record identified by uw at a parent by overwriting
// its foreign-key fields. The child change flows through the normal update
// pipeline.
func (me *ModelEngine) connectTo(ctx context.Context, txn *kv.Txn, uw query.UniqueWhere, fk record.Record, opts WriteOpts) error {
	set := make(record.Record, len(fk))
	for f, v := range fk {
		set[f] = v
	}
	_, err := me.update(ctx, txn, uw, &query.UpdateInput{Set: set}, opts)
	return err
}

// uniqueOf derives a primary-key selector from a loaded record.
func uniqueOf(m *schema.Model, rec record.Record) map[string]record.Value {
	out := make(map[string]record.Value, len(m.PrimaryKey))
	for _, f := range m.PrimaryKey {
		out[f] = rec[f]
	}
	return out
}

func countOps(nw *query.NestedWrite) int {
	return len(nw.Create) + len(nw.Connect) + len(nw.ConnectOrCreate) +
		len(nw.Update) + len(nw.Upsert) + len(nw.Delete) + len(nw.Disconnect) + len(nw.Set)
}

func sortedNestedNames(nested map[string]*query.NestedWrite) []string {
	names := make([]string, 0, len(nested))
	for name := range nested {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
