package engine

import (
	"context"

	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// Update rewrites the record identified by where. Changing a primary-key
// field renames the record: the new key must be free, and foreign keys on
// dependent records are rewritten to follow it.
func (me *ModelEngine) Update(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, in *query.UpdateInput, opts WriteOpts) (record.Record, error) {
	if in == nil {
		return nil, invalidArgument(me.model.Name, "nil update input")
	}
	scope, err := me.engine.planner.UpdateScope(me.model.Name, in, !opts.SkipOutbox)
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	var out record.Record
	err = me.withTxn(ctx, txn, kv.ReadWrite, scope, func(txn *kv.Txn) error {
		out, err = me.update(ctx, txn, where, in, opts)
		return err
	})
	return out, err
}

// UpdateMany applies in to every record matching where, in store order.
// Returns the number updated.
func (me *ModelEngine) UpdateMany(ctx context.Context, txn *kv.Txn, where *query.Where, in *query.UpdateInput, opts WriteOpts) (int, error) {
	if in == nil {
		return 0, invalidArgument(me.model.Name, "nil update input")
	}
	findScope, err := me.engine.planner.FindScope(me.model.Name, &query.FindArgs{Where: where})
	if err != nil {
		return 0, invalidArgument(me.model.Name, err.Error())
	}
	updateScope, err := me.engine.planner.UpdateScope(me.model.Name, in, !opts.SkipOutbox)
	if err != nil {
		return 0, invalidArgument(me.model.Name, err.Error())
	}
	n := 0
	err = me.withTxn(ctx, txn, kv.ReadWrite, mergeScopes(findScope, updateScope), func(txn *kv.Txn) error {
		recs, err := me.filtered(ctx, txn, where)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if _, err := me.update(ctx, txn, uniqueOf(me.model, rec), in, opts); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Upsert updates the record identified by where, creating it when absent.
func (me *ModelEngine) Upsert(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, create *query.CreateInput, update *query.UpdateInput, opts WriteOpts) (record.Record, error) {
	scope, err := me.engine.planner.UpsertScope(me.model.Name, create, update, !opts.SkipOutbox)
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	var out record.Record
	err = me.withTxn(ctx, txn, kv.ReadWrite, scope, func(txn *kv.Txn) error {
		existing, err := me.findUnique(ctx, txn, where)
		if err != nil {
			return err
		}
		if existing == nil {
			out, err = me.create(ctx, txn, create, opts)
		} else {
			out, err = me.update(ctx, txn, where, update, opts)
		}
		return err
	})
	return out, err
}

// update runs the rewrite pipeline inside an open transaction.
func (me *ModelEngine) update(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, in *query.UpdateInput, opts WriteOpts) (record.Record, error) {
	m := me.model
	old, err := me.findUnique(ctx, txn, where)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, notFound(m.Name, nil)
	}

	rec := old.Clone()
	for f, v := range in.Set {
		fd := m.Field(f)
		if fd == nil {
			rec[f] = v
			continue
		}
		coerced, err := schema.Coerce(fd, v)
		if err != nil {
			return nil, invalidArgument(m.Name, err.Error())
		}
		rec[f] = coerced
	}
	if err := me.applyNestedUpdate(ctx, txn, rec, in.Nested, opts); err != nil {
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

	oldKey, err := m.KeyOf(old)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	newKey, err := m.KeyOf(rec)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	if err := me.checkUniquesFree(ctx, txn, rec, oldKey); err != nil {
		return nil, err
	}

	renamed := newKey != oldKey
	if renamed {
		_, taken, err := txn.Get(ctx, m.Name, newKey)
		if err != nil {
			return nil, storage(m.Name, err)
		}
		if taken {
			return nil, uniqueViolation(m.Name, m.KeyPathOf(rec), "primary key")
		}
		if _, err := txn.Delete(ctx, m.Name, oldKey); err != nil {
			return nil, storage(m.Name, err)
		}
	}
	if err := me.dropUniques(ctx, txn, old); err != nil {
		return nil, err
	}
	if err := me.storeRecord(ctx, txn, newKey, rec); err != nil {
		return nil, err
	}
	if err := me.putUniques(ctx, txn, rec, newKey); err != nil {
		return nil, err
	}
	if renamed {
		// Dependent foreign keys follow the rename. The rewrites are
		// silent and skip the outbox: the server derives the same
		// rewrites from the parent's rename when it applies it.
		if err := me.rewriteDependents(ctx, txn, old, rec); err != nil {
			return nil, err
		}
	}

	var oldPath record.KeyPath
	if renamed {
		oldPath = m.KeyPathOf(old)
	}
	if err := me.afterWrite(ctx, txn, events.Updated, rec, m.KeyPathOf(rec), oldPath, opts); err != nil {
		return nil, err
	}
	return rec, nil
}

// rewriteDependents repoints foreign keys that referenced oldRec's renamed
// fields at newRec's values.
func (me *ModelEngine) rewriteDependents(ctx context.Context, txn *kv.Txn, oldRec, newRec record.Record) error {
	m := me.model
	silent := WriteOpts{Silent: true, SkipOutbox: true}
	for _, dep := range me.engine.reg.Dependents(m.Name) {
		rel := dep.Relation
		changed := false
		for _, ref := range rel.References {
			if !record.Equal(oldRec[ref], newRec[ref]) {
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		dme := me.engine.models[dep.Model.Name]
		entries, err := txn.Scan(ctx, dep.Model.Name)
		if err != nil {
			return storage(dep.Model.Name, err)
		}
		for _, e := range entries {
			child, err := schema.DecodeRecord(dep.Model, e.Value)
			if err != nil {
				return storage(dep.Model.Name, err)
			}
			match := true
			for i, f := range rel.Fields {
				if !record.Equal(child[f], oldRec[rel.References[i]]) {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			set := make(record.Record, len(rel.Fields))
			for i, f := range rel.Fields {
				set[f] = newRec[rel.References[i]]
			}
			if _, err := dme.update(ctx, txn, uniqueOf(dep.Model, child), &query.UpdateInput{Set: set}, silent); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNestedUpdate applies relation writes inside an update. Unlike
// create, the full operation set is valid here.
func (me *ModelEngine) applyNestedUpdate(ctx context.Context, txn *kv.Txn, rec record.Record, nested map[string]*query.NestedWrite, opts WriteOpts) error {
	m := me.model
	for _, name := range sortedNestedNames(nested) {
		nw := nested[name]
		rel := m.Relation(name)
		if rel == nil {
			return invalidArgument(m.Name, "unknown relation "+name)
		}
		if nw == nil {
			continue
		}
		var err error
		if rel.Kind == schema.BelongsTo {
			err = me.nestedBelongsToUpdate(ctx, txn, rec, rel, nw, opts)
		} else {
			err = me.nestedHasSideUpdate(ctx, txn, rec, rel, nw, opts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (me *ModelEngine) nestedBelongsToUpdate(ctx context.Context, txn *kv.Txn, rec record.Record, rel *schema.Relation, nw *query.NestedWrite, opts WriteOpts) error {
	m := me.model
	if len(nw.Disconnect) > 0 || (nw.SetPresent && len(nw.Set) == 0) {
		if !fkOptional(m, rel) {
			return invalidRelation(m.Name, "cannot clear required relation "+rel.Name)
		}
		for _, f := range rel.Fields {
			rec[f] = record.Null{}
		}
		return nil
	}
	if len(nw.Update) > 0 || len(nw.Upsert) > 0 {
		tme := me.engine.models[rel.Target]
		related, err := me.relatedOf(ctx, txn, m, rec, rel)
		if err != nil {
			return err
		}
		for _, nu := range nw.Update {
			if len(related) == 0 {
				return notFound(rel.Target, nil)
			}
			if _, err := tme.update(ctx, txn, uniqueOf(tme.model, related[0]), nu.Data, opts); err != nil {
				return err
			}
		}
		for _, up := range nw.Upsert {
			if len(related) == 0 {
				t, err := tme.create(ctx, txn, up.Create, opts)
				if err != nil {
					return err
				}
				for i, f := range rel.Fields {
					rec[f] = t[rel.References[i]]
				}
				continue
			}
			if _, err := tme.update(ctx, txn, uniqueOf(tme.model, related[0]), up.Update, opts); err != nil {
				return err
			}
		}
		return nil
	}
	return me.nestedBelongsTo(ctx, txn, rec, rel, nw, opts)
}

func (me *ModelEngine) nestedHasSideUpdate(ctx context.Context, txn *kv.Txn, rec record.Record, rel *schema.Relation, nw *query.NestedWrite, opts WriteOpts) error {
	m := me.model
	tme := me.engine.models[rel.Target]

	fk := make(record.Record, len(rel.Fields))
	for i, f := range rel.Fields {
		fk[f] = rec[rel.References[i]]
	}
	clearFK := func(child record.Record) error {
		if !fkOptional(tme.model, rel) {
			return invalidRelation(m.Name, "cannot disconnect required relation "+rel.Name)
		}
		set := make(record.Record, len(rel.Fields))
		for _, f := range rel.Fields {
			set[f] = record.Null{}
		}
		_, err := tme.update(ctx, txn, uniqueOf(tme.model, child), &query.UpdateInput{Set: set}, opts)
		return err
	}

	if nw.SetPresent {
		// Replace membership: detach every current child, then connect
		// the listed ones.
		current, err := me.relatedOf(ctx, txn, m, rec, rel)
		if err != nil {
			return err
		}
		for _, child := range current {
			if err := clearFK(child); err != nil {
				return err
			}
		}
		for _, uw := range nw.Set {
			if err := tme.connectTo(ctx, txn, uw, fk, opts); err != nil {
				return err
			}
		}
	}

	for _, uw := range nw.Disconnect {
		child, err := tme.findUnique(ctx, txn, uw)
		if err != nil {
			return err
		}
		if child == nil {
			return notFound(rel.Target, nil)
		}
		if err := clearFK(child); err != nil {
			return err
		}
	}
	for _, uw := range nw.Delete {
		if _, err := tme.delete(ctx, txn, uw, opts); err != nil {
			return err
		}
	}
	for _, nu := range nw.Update {
		if _, err := tme.update(ctx, txn, nu.Where, nu.Data, opts); err != nil {
			return err
		}
	}
	for _, up := range nw.Upsert {
		existing, err := tme.findUnique(ctx, txn, up.Where)
		if err != nil {
			return err
		}
		if existing == nil {
			child := &query.CreateInput{Nested: up.Create.Nested}
			child.Data = up.Create.Data.Clone()
			if child.Data == nil {
				child.Data = record.Record{}
			}
			for f, v := range fk {
				child.Data[f] = v
			}
			if _, err := tme.create(ctx, txn, child, opts); err != nil {
				return err
			}
			continue
		}
		if _, err := tme.update(ctx, txn, up.Where, up.Update, opts); err != nil {
			return err
		}
	}
	return me.nestedHasSide(ctx, txn, rec, rel, &query.NestedWrite{
		Create:          nw.Create,
		Connect:         nw.Connect,
		ConnectOrCreate: nw.ConnectOrCreate,
	}, opts)
}

// fkOptional reports whether every foreign-key field of rel is optional on
// the model holding it.
func fkOptional(holder *schema.Model, rel *schema.Relation) bool {
	for _, f := range rel.Fields {
		fd := holder.Field(f)
		if fd == nil || !fd.Optional {
			return false
		}
	}
	return true
}

func mergeScopes(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !set[s] {
			set[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !set[s] {
			set[s] = true
			out = append(out, s)
		}
	}
	return out
}
