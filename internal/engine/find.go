package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// FindMany returns every record matching args, shaped by its ordering,
// pagination, projection, and includes.
func (me *ModelEngine) FindMany(ctx context.Context, txn *kv.Txn, args *query.FindArgs) ([]record.Record, error) {
	var out []record.Record
	scope, err := me.engine.planner.FindScope(me.model.Name, args)
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	err = me.withTxn(ctx, txn, kv.Read, scope, func(txn *kv.Txn) error {
		out, err = me.findMany(ctx, txn, args)
		return err
	})
	return out, err
}

// FindFirst returns the first record matching args, or nil when none
// matches.
func (me *ModelEngine) FindFirst(ctx context.Context, txn *kv.Txn, args *query.FindArgs) (record.Record, error) {
	one := 1
	limited := query.FindArgs{}
	if args != nil {
		limited = *args
	}
	limited.Take = &one
	recs, err := me.FindMany(ctx, txn, &limited)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindFirstOrFail is FindFirst, failing with a not-found error when no
// record matches.
func (me *ModelEngine) FindFirstOrFail(ctx context.Context, txn *kv.Txn, args *query.FindArgs) (record.Record, error) {
	rec, err := me.FindFirst(ctx, txn, args)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(me.model.Name, nil)
	}
	return rec, nil
}

// FindUnique returns the record identified by a primary-key or
// unique-index lookup, or nil when absent.
func (me *ModelEngine) FindUnique(ctx context.Context, txn *kv.Txn, where query.UniqueWhere) (record.Record, error) {
	var out record.Record
	err := me.withTxn(ctx, txn, kv.Read, []string{me.model.Name}, func(txn *kv.Txn) error {
		rec, err := me.findUnique(ctx, txn, where)
		out = rec
		return err
	})
	return out, err
}

// FindUniqueOrFail is FindUnique, failing with a not-found error when the
// record is absent.
func (me *ModelEngine) FindUniqueOrFail(ctx context.Context, txn *kv.Txn, where query.UniqueWhere) (record.Record, error) {
	rec, err := me.FindUnique(ctx, txn, where)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(me.model.Name, nil)
	}
	return rec, nil
}

// Count returns the number of records matching where.
func (me *ModelEngine) Count(ctx context.Context, txn *kv.Txn, where *query.Where) (int, error) {
	n := 0
	args := &query.FindArgs{Where: where}
	scope, err := me.engine.planner.FindScope(me.model.Name, args)
	if err != nil {
		return 0, invalidArgument(me.model.Name, err.Error())
	}
	err = me.withTxn(ctx, txn, kv.Read, scope, func(txn *kv.Txn) error {
		recs, err := me.filtered(ctx, txn, where)
		if err != nil {
			return err
		}
		n = len(recs)
		return nil
	})
	return n, err
}

// Aggregate computes count, min, and max over the filtered record set.
// Min and max skip null field values and are null when no value exists.
func (me *ModelEngine) Aggregate(ctx context.Context, txn *kv.Txn, args *query.AggregateArgs) (*query.AggregateResult, error) {
	if args == nil {
		args = &query.AggregateArgs{Count: true}
	}
	res := &query.AggregateResult{}
	scope, err := me.engine.planner.FindScope(me.model.Name, &query.FindArgs{Where: args.Where})
	if err != nil {
		return nil, invalidArgument(me.model.Name, err.Error())
	}
	err = me.withTxn(ctx, txn, kv.Read, scope, func(txn *kv.Txn) error {
		recs, err := me.filtered(ctx, txn, args.Where)
		if err != nil {
			return err
		}
		if args.Count {
			res.Count = len(recs)
		}
		if len(args.Min) > 0 {
			res.Min = aggregateExtremum(recs, args.Min, true)
		}
		if len(args.Max) > 0 {
			res.Max = aggregateExtremum(recs, args.Max, false)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func aggregateExtremum(recs []record.Record, fields []string, min bool) map[string]record.Value {
	out := make(map[string]record.Value, len(fields))
	for _, f := range fields {
		var best record.Value = record.Null{}
		for _, rec := range recs {
			v := rec[f]
			if record.IsNull(v) {
				continue
			}
			if record.IsNull(best) {
				best = v
				continue
			}
			c := record.Compare(v, best)
			if (min && c < 0) || (!min && c > 0) {
				best = v
			}
		}
		out[f] = best
	}
	return out
}

// findUnique resolves a unique selector to a record inside an open
// transaction, returning nil when absent.
func (me *ModelEngine) findUnique(ctx context.Context, txn *kv.Txn, where query.UniqueWhere) (record.Record, error) {
	m := me.model
	fields := make([]string, 0, len(where))
	for f := range where {
		fields = append(fields, f)
	}
	idx := m.UniqueFor(fields)
	if idx == nil {
		return nil, invalidArgument(m.Name, "selector does not cover a unique index")
	}
	vals := make([]record.Value, len(idx))
	for i, f := range idx {
		v, err := schema.Coerce(m.Field(f), where[f])
		if err != nil {
			return nil, invalidArgument(m.Name, err.Error())
		}
		vals[i] = v
	}
	encoded, err := record.KeyPath(vals).Encode()
	if err != nil {
		return nil, storage(m.Name, err)
	}

	key := encoded
	if !sameFields(idx, m.PrimaryKey) {
		mapped, ok, err := txn.GetUnique(ctx, m.Name, schema.UniqueName(idx), encoded)
		if err != nil {
			return nil, storage(m.Name, err)
		}
		if !ok {
			return nil, nil
		}
		key = mapped
	}
	data, ok, err := txn.Get(ctx, m.Name, key)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	if !ok {
		return nil, nil
	}
	rec, err := schema.DecodeRecord(m, data)
	if err != nil {
		return nil, storage(m.Name, err)
	}
	return rec, nil
}

// findMany runs the full read pipeline inside an open transaction.
func (me *ModelEngine) findMany(ctx context.Context, txn *kv.Txn, args *query.FindArgs) ([]record.Record, error) {
	if args == nil {
		args = &query.FindArgs{}
	}
	recs, err := me.filtered(ctx, txn, args.Where)
	if err != nil {
		return nil, err
	}
	if err := me.orderRecords(ctx, txn, recs, args.OrderBy); err != nil {
		return nil, err
	}
	recs = paginate(recs, args.Skip, args.Take)
	recs, err = me.attachIncludes(ctx, txn, recs, args.Include)
	if err != nil {
		return nil, err
	}
	recs = project(recs, args.Select, args.Include)
	if len(args.Distinct) > 0 {
		recs, err = distinct(recs, args.Distinct)
		if err != nil {
			return nil, err
		}
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

// filtered scans the model's store and evaluates the filter tree.
func (me *ModelEngine) filtered(ctx context.Context, txn *kv.Txn, where *query.Where) ([]record.Record, error) {
	recs, err := me.scanAll(ctx, txn)
	if err != nil {
		return nil, err
	}
	return me.evalWhere(ctx, txn, me.model, recs, where)
}

func (me *ModelEngine) scanAll(ctx context.Context, txn *kv.Txn) ([]record.Record, error) {
	entries, err := txn.Scan(ctx, me.model.Name)
	if err != nil {
		return nil, storage(me.model.Name, err)
	}
	out := make([]record.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := schema.DecodeRecord(me.model, e.Value)
		if err != nil {
			return nil, storage(me.model.Name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func keyFuncOf(m *schema.Model) query.KeyFunc {
	return func(rec record.Record) (string, error) { return m.KeyOf(rec) }
}

// evalWhere evaluates the filter tree over candidates. The result is a
// subset of candidates in their original order.
func (me *ModelEngine) evalWhere(ctx context.Context, txn *kv.Txn, m *schema.Model, candidates []record.Record, w *query.Where) ([]record.Record, error) {
	if w == nil {
		return candidates, nil
	}
	base, err := me.evalLeaf(ctx, txn, m, candidates, w)
	if err != nil {
		return nil, err
	}
	key := keyFuncOf(m)

	sets := [][]record.Record{base}
	for _, sub := range w.And {
		s, err := me.evalWhere(ctx, txn, m, candidates, sub)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	cur, err := query.IntersectByKey(sets, key)
	if err != nil {
		return nil, storage(m.Name, err)
	}

	if len(w.Or) > 0 {
		orSets := make([][]record.Record, 0, len(w.Or))
		for _, sub := range w.Or {
			s, err := me.evalWhere(ctx, txn, m, candidates, sub)
			if err != nil {
				return nil, err
			}
			orSets = append(orSets, s)
		}
		union, err := query.UnionByKey(orSets, key)
		if err != nil {
			return nil, storage(m.Name, err)
		}
		cur, err = query.IntersectByKey([][]record.Record{cur, union}, key)
		if err != nil {
			return nil, storage(m.Name, err)
		}
	}

	for _, sub := range w.Not {
		s, err := me.evalWhere(ctx, txn, m, candidates, sub)
		if err != nil {
			return nil, err
		}
		cur, err = query.ExcludeByKey(cur, s, key)
		if err != nil {
			return nil, storage(m.Name, err)
		}
	}
	return cur, nil
}

// evalLeaf keeps the candidates matching the filter's own field predicates
// and relation conditions.
func (me *ModelEngine) evalLeaf(ctx context.Context, txn *kv.Txn, m *schema.Model, candidates []record.Record, w *query.Where) ([]record.Record, error) {
	out := make([]record.Record, 0, len(candidates))
	for _, rec := range candidates {
		ok, err := me.matchLeaf(ctx, txn, m, rec, w)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (me *ModelEngine) matchLeaf(ctx context.Context, txn *kv.Txn, m *schema.Model, rec record.Record, w *query.Where) (bool, error) {
	for field, p := range w.Fields {
		ok, err := query.Matches(rec[field], p)
		if err != nil {
			return false, invalidArgument(m.Name, err.Error())
		}
		if !ok {
			return false, nil
		}
	}
	for name, cond := range w.Relations {
		rel := m.Relation(name)
		if rel == nil {
			return false, invalidArgument(m.Name, "unknown relation "+name)
		}
		ok, err := me.matchRelation(ctx, txn, m, rec, rel, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (me *ModelEngine) matchRelation(ctx context.Context, txn *kv.Txn, m *schema.Model, rec record.Record, rel *schema.Relation, cond *query.RelationCond) (bool, error) {
	if cond == nil {
		return true, nil
	}
	target, err := me.engine.reg.Model(rel.Target)
	if err != nil {
		return false, invalidArgument(m.Name, err.Error())
	}
	related, err := me.relatedOf(ctx, txn, m, rec, rel)
	if err != nil {
		return false, err
	}

	if rel.ToMany() {
		if cond.Is != nil || cond.IsNot != nil {
			return false, invalidArgument(m.Name, "is/isNot on to-many relation "+rel.Name)
		}
		if cond.Some != nil {
			n, err := me.countMatching(ctx, txn, target, related, cond.Some)
			if err != nil || n == 0 {
				return false, err
			}
		}
		if cond.Every != nil {
			n, err := me.countMatching(ctx, txn, target, related, cond.Every)
			if err != nil {
				return false, err
			}
			if n != len(related) {
				return false, nil
			}
		}
		if cond.None != nil {
			n, err := me.countMatching(ctx, txn, target, related, cond.None)
			if err != nil || n > 0 {
				return false, err
			}
		}
		return true, nil
	}

	if cond.Some != nil || cond.Every != nil || cond.None != nil {
		return false, invalidArgument(m.Name, "some/every/none on to-one relation "+rel.Name)
	}
	if cond.Is != nil {
		n, err := me.countMatching(ctx, txn, target, related, cond.Is)
		if err != nil || n == 0 {
			return false, err
		}
	}
	if cond.IsNot != nil {
		n, err := me.countMatching(ctx, txn, target, related, cond.IsNot)
		if err != nil {
			return false, err
		}
		// An absent relation satisfies isNot.
		if len(related) > 0 && n > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (me *ModelEngine) countMatching(ctx context.Context, txn *kv.Txn, target *schema.Model, related []record.Record, w *query.Where) (int, error) {
	matched, err := me.evalWhere(ctx, txn, target, related, w)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// relatedOf loads the records related to rec through rel. For BelongsTo
// the foreign key lives on rec; otherwise it lives on the target.
func (me *ModelEngine) relatedOf(ctx context.Context, txn *kv.Txn, m *schema.Model, rec record.Record, rel *schema.Relation) ([]record.Record, error) {
	target, err := me.engine.reg.Model(rel.Target)
	if err != nil {
		return nil, invalidArgument(m.Name, err.Error())
	}

	var ownFields, targetFields []string
	if rel.Kind == schema.BelongsTo {
		ownFields, targetFields = rel.Fields, rel.References
	} else {
		ownFields, targetFields = rel.References, rel.Fields
	}

	ownVals := make([]record.Value, len(ownFields))
	for i, f := range ownFields {
		v := rec[f]
		if record.IsNull(v) {
			// A null linking value relates to nothing.
			return nil, nil
		}
		ownVals[i] = v
	}

	// Fast path: the target-side fields are the target's primary key, so
	// the related record is a direct key lookup.
	if rel.Kind == schema.BelongsTo && sameFields(targetFields, target.PrimaryKey) {
		key, err := record.KeyPath(ownVals).Encode()
		if err != nil {
			return nil, storage(m.Name, err)
		}
		data, ok, err := txn.Get(ctx, target.Name, key)
		if err != nil {
			return nil, storage(target.Name, err)
		}
		if !ok {
			return nil, nil
		}
		trec, err := schema.DecodeRecord(target, data)
		if err != nil {
			return nil, storage(target.Name, err)
		}
		return []record.Record{trec}, nil
	}

	entries, err := txn.Scan(ctx, target.Name)
	if err != nil {
		return nil, storage(target.Name, err)
	}
	var out []record.Record
	for _, e := range entries {
		trec, err := schema.DecodeRecord(target, e.Value)
		if err != nil {
			return nil, storage(target.Name, err)
		}
		match := true
		for i, f := range targetFields {
			if !record.Equal(trec[f], ownVals[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, trec)
			if !rel.ToMany() {
				break
			}
		}
	}
	return out, nil
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// orderRecords sorts recs in place by the ordering keys. Relation-derived
// keys reach one level deep; deeper paths are rejected.
func (me *ModelEngine) orderRecords(ctx context.Context, txn *kv.Txn, recs []record.Record, orderBy []query.OrderBy) error {
	if len(orderBy) == 0 {
		return nil
	}
	// Precompute sort keys so relation lookups run once per record.
	keys := make([][]record.Value, len(recs))
	for i, rec := range recs {
		keys[i] = make([]record.Value, len(orderBy))
		for j, ob := range orderBy {
			v, err := me.orderKey(ctx, txn, rec, ob)
			if err != nil {
				return err
			}
			keys[i][j] = v
		}
	}
	idx := make([]int, len(recs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, ob := range orderBy {
			o := record.Ordering{Direction: ob.Direction, Nulls: ob.Nulls}
			c := record.CompareOrdered(keys[idx[a]][j], keys[idx[b]][j], o)
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	reordered := make([]record.Record, len(recs))
	for i, at := range idx {
		reordered[i] = recs[at]
	}
	copy(recs, reordered)
	return nil
}

func (me *ModelEngine) orderKey(ctx context.Context, txn *kv.Txn, rec record.Record, ob query.OrderBy) (record.Value, error) {
	if ob.Relation == "" {
		return rec[ob.Field], nil
	}
	if strings.Contains(ob.Relation, ".") {
		return nil, invalidArgument(me.model.Name, "ordering by nested relation path "+ob.Relation)
	}
	rel := me.model.Relation(ob.Relation)
	if rel == nil {
		return nil, invalidArgument(me.model.Name, "unknown relation "+ob.Relation)
	}
	related, err := me.relatedOf(ctx, txn, me.model, rec, rel)
	if err != nil {
		return nil, err
	}
	if ob.Count {
		if !rel.ToMany() {
			return nil, invalidArgument(me.model.Name, "count ordering on to-one relation "+ob.Relation)
		}
		return record.Int(len(related)), nil
	}
	if rel.ToMany() {
		return nil, invalidArgument(me.model.Name, "field ordering on to-many relation "+ob.Relation)
	}
	if len(related) == 0 {
		return record.Null{}, nil
	}
	return related[0][ob.RelationField], nil
}

func paginate(recs []record.Record, skip int, take *int) []record.Record {
	if skip > 0 {
		if skip >= len(recs) {
			return nil
		}
		recs = recs[skip:]
	}
	if take != nil && *take >= 0 && *take < len(recs) {
		recs = recs[:*take]
	}
	return recs
}

// attachIncludes loads requested relations and attaches them under their
// relation names. To-one relations attach a record or null; to-many attach
// a list.
func (me *ModelEngine) attachIncludes(ctx context.Context, txn *kv.Txn, recs []record.Record, inc query.Include) ([]record.Record, error) {
	if len(inc) == 0 {
		return recs, nil
	}
	out := make([]record.Record, len(recs))
	for i, rec := range recs {
		attached := rec.Clone()
		for _, name := range sortedIncludeNames(inc) {
			rel := me.model.Relation(name)
			if rel == nil {
				return nil, invalidArgument(me.model.Name, "unknown relation "+name)
			}
			target, err := me.engine.reg.Model(rel.Target)
			if err != nil {
				return nil, invalidArgument(me.model.Name, err.Error())
			}
			related, err := me.relatedOf(ctx, txn, me.model, rec, rel)
			if err != nil {
				return nil, err
			}
			shaped, err := me.shapeRelated(ctx, txn, target, related, inc[name])
			if err != nil {
				return nil, err
			}
			if rel.ToMany() {
				list := make(record.List, len(shaped))
				for j, r := range shaped {
					list[j] = r
				}
				attached[name] = list
			} else if len(shaped) > 0 {
				attached[name] = shaped[0]
			} else {
				attached[name] = record.Null{}
			}
		}
		out[i] = attached
	}
	return out, nil
}

func sortedIncludeNames(inc query.Include) []string {
	names := make([]string, 0, len(inc))
	for name := range inc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// shapeRelated applies an include's sub-query to loaded related records.
func (me *ModelEngine) shapeRelated(ctx context.Context, txn *kv.Txn, target *schema.Model, related []record.Record, rq *query.RelationQuery) ([]record.Record, error) {
	tme := me.engine.models[target.Name]
	if rq == nil {
		return related, nil
	}
	shaped, err := tme.evalWhere(ctx, txn, target, related, rq.Where)
	if err != nil {
		return nil, err
	}
	if err := tme.orderRecords(ctx, txn, shaped, rq.OrderBy); err != nil {
		return nil, err
	}
	shaped = paginate(shaped, rq.Skip, rq.Take)
	shaped, err = tme.attachIncludes(ctx, txn, shaped, rq.Include)
	if err != nil {
		return nil, err
	}
	return project(shaped, rq.Select, rq.Include), nil
}

// project applies a Select allow-list, always retaining attached include
// values.
func project(recs []record.Record, sel query.Select, inc query.Include) []record.Record {
	if sel == nil {
		return recs
	}
	keep := make(map[string]bool, len(sel)+len(inc))
	for _, f := range sel {
		keep[f] = true
	}
	for name := range inc {
		keep[name] = true
	}
	out := make([]record.Record, len(recs))
	for i, rec := range recs {
		p := make(record.Record, len(keep))
		for k, v := range rec {
			if keep[k] {
				p[k] = v
			}
		}
		out[i] = p
	}
	return out
}

// distinct keeps the first record for each combination of the given
// fields.
func distinct(recs []record.Record, fields []string) ([]record.Record, error) {
	seen := make(map[string]bool, len(recs))
	out := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		key, err := record.KeyOf(rec, fields).Encode()
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out, nil
}
