package engine

import (
	"context"

	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// Delete removes the record identified by where, applying each dependent
// relation's on-delete policy. A restricted dependent fails the whole
// delete; nothing is removed.
func (me *ModelEngine) Delete(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, opts WriteOpts) (record.Record, error) {
	scope, err := me.engine.planner.DeleteScope(me.model.Name, !opts.SkipOutbox)
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	var out record.Record
	err = me.withTxn(ctx, txn, kv.ReadWrite, scope, func(txn *kv.Txn) error {
		out, err = me.delete(ctx, txn, where, opts)
		return err
	})
	return out, err
}

// DeleteMany removes every record matching where. Returns the number
// removed, counting only directly matched records, not cascades.
func (me *ModelEngine) DeleteMany(ctx context.Context, txn *kv.Txn, where *query.Where, opts WriteOpts) (int, error) {
	findScope, err := me.engine.planner.FindScope(me.model.Name, &query.FindArgs{Where: where})
	if err != nil {
		return 0, invalidArgument(me.model.Name, err.Error())
	}
	deleteScope, err := me.engine.planner.DeleteScope(me.model.Name, !opts.SkipOutbox)
	if err != nil {
		return 0, invalidArgument(me.model.Name, err.Error())
	}
	n := 0
	err = me.withTxn(ctx, txn, kv.ReadWrite, mergeScopes(findScope, deleteScope), func(txn *kv.Txn) error {
		recs, err := me.filtered(ctx, txn, where)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			// A cascade from an earlier delete may have removed this
			// record already.
			deleted, err := me.deleteIfPresent(ctx, txn, uniqueOf(me.model, rec), opts)
			if err != nil {
				return err
			}
			if deleted {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (me *ModelEngine) deleteIfPresent(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, opts WriteOpts) (bool, error) {
	existing, err := me.findUnique(ctx, txn, where)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	_, err = me.delete(ctx, txn, where, opts)
	return err == nil, err
}

// delete runs the removal pipeline inside an open transaction.
func (me *ModelEngine) delete(ctx context.Context, txn *kv.Txn, where query.UniqueWhere, opts WriteOpts) (record.Record, error) {
	m := me.model
	rec, err := me.findUnique(ctx, txn, where)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(m.Name, nil)
	}

	deps := me.engine.reg.Dependents(m.Name)

	// Restrict policies are checked before any mutation so a restricted
	// delete leaves the store untouched.
	for _, dep := range deps {
		if dep.Relation.OnDelete != schema.Restrict {
			continue
		}
		children, err := me.dependentsOf(ctx, txn, rec, dep)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			return nil, referential(m.Name, "delete restricted by "+dep.Model.Name+"."+dep.Relation.Name)
		}
	}

	for _, dep := range deps {
		children, err := me.dependentsOf(ctx, txn, rec, dep)
		if err != nil {
			return nil, err
		}
		dme := me.engine.models[dep.Model.Name]
		switch dep.Relation.OnDelete {
		case schema.Cascade:
			// Cascaded deletes are real local mutations and carry their
			// own events and outbox entries.
			for _, child := range children {
				if _, err := dme.delete(ctx, txn, uniqueOf(dep.Model, child), opts); err != nil {
					// A diamond cascade may have removed the child
					// through another path.
					if IsNotFound(err) {
						continue
					}
					return nil, err
				}
			}
		case schema.SetNull:
			set := make(record.Record, len(dep.Relation.Fields))
			for _, f := range dep.Relation.Fields {
				set[f] = record.Null{}
			}
			for _, child := range children {
				if _, err := dme.update(ctx, txn, uniqueOf(dep.Model, child), &query.UpdateInput{Set: set}, opts); err != nil {
					return nil, err
				}
			}
		}
	}

	key, err := m.KeyOf(rec)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	if err := me.dropUniques(ctx, txn, rec); err != nil {
		return nil, err
	}
	if _, err := txn.Delete(ctx, m.Name, key); err != nil {
		return nil, storage(m.Name, err)
	}
	if err := me.afterWrite(ctx, txn, events.Deleted, nil, m.KeyPathOf(rec), nil, opts); err != nil {
		return nil, err
	}
	return rec, nil
}

// dependentsOf loads the records of dep.Model whose foreign key references
// rec.
func (me *ModelEngine) dependentsOf(ctx context.Context, txn *kv.Txn, rec record.Record, dep schema.Dependent) ([]record.Record, error) {
	rel := dep.Relation
	refVals := make([]record.Value, len(rel.References))
	for i, f := range rel.References {
		refVals[i] = rec[f]
	}
	entries, err := txn.Scan(ctx, dep.Model.Name)
	if err != nil {
		return nil, storage(dep.Model.Name, err)
	}
	var out []record.Record
	for _, e := range entries {
		child, err := schema.DecodeRecord(dep.Model, e.Value)
		if err != nil {
			return nil, storage(dep.Model.Name, err)
		}
		match := true
		for i, f := range rel.Fields {
			if !record.Equal(child[f], refVals[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, child)
		}
	}
	return out, nil
}
