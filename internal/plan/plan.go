// Package plan computes the minimal store set an operation may touch, so
// the caller can open exactly one transaction spanning all of them.
//
// Planning is purely structural: it walks the query or mutation argument
// tree without any I/O. Over-including a store is safe; under-including is
// a correctness bug, so the planner is deliberately conservative (deletes
// include the full cascade closure, updates include the dependent closure
// for key-rename propagation).
package plan

import (
	"sort"

	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/schema"
)

// Planner derives transaction scopes from the schema registry.
type Planner struct {
	reg *schema.Registry
}

// New creates a planner over a registry.
func New(reg *schema.Registry) *Planner {
	return &Planner{reg: reg}
}

type scope map[string]bool

func (s scope) add(store string) { s[store] = true }

func (s scope) sorted() []string {
	out := make([]string, 0, len(s))
	for store := range s {
		out = append(out, store)
	}
	sort.Strings(out)
	return out
}

// FindScope returns the stores a find-shaped operation may read: the
// primary store, stores referenced by relation filters (recursively),
// stores referenced by includes, and stores backing relation-derived
// ordering keys.
func (p *Planner) FindScope(model string, args *query.FindArgs) ([]string, error) {
	s := scope{}
	if err := p.addFind(s, model, args); err != nil {
		return nil, err
	}
	return s.sorted(), nil
}

func (p *Planner) addFind(s scope, model string, args *query.FindArgs) error {
	m, err := p.reg.Model(model)
	if err != nil {
		return err
	}
	s.add(m.Name)
	if args == nil {
		return nil
	}
	if err := p.addWhere(s, m, args.Where); err != nil {
		return err
	}
	for _, ob := range args.OrderBy {
		if ob.Relation == "" {
			continue
		}
		rel := m.Relation(ob.Relation)
		if rel != nil {
			s.add(rel.Target)
		}
	}
	return p.addInclude(s, m, args.Include)
}

func (p *Planner) addWhere(s scope, m *schema.Model, w *query.Where) error {
	if w == nil {
		return nil
	}
	for name := range w.Relations {
		rel := m.Relation(name)
		if rel == nil {
			continue
		}
		target, err := p.reg.Model(rel.Target)
		if err != nil {
			return err
		}
		s.add(target.Name)
		cond := w.Relations[name]
		for _, sub := range []*query.Where{cond.Some, cond.Every, cond.None, cond.Is, cond.IsNot} {
			if err := p.addWhere(s, target, sub); err != nil {
				return err
			}
		}
	}
	for _, group := range [][]*query.Where{w.And, w.Or, w.Not} {
		for _, sub := range group {
			if err := p.addWhere(s, m, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) addInclude(s scope, m *schema.Model, inc query.Include) error {
	for name, rq := range inc {
		rel := m.Relation(name)
		if rel == nil {
			continue
		}
		target, err := p.reg.Model(rel.Target)
		if err != nil {
			return err
		}
		s.add(target.Name)
		if rq == nil {
			continue
		}
		if err := p.addWhere(s, target, rq.Where); err != nil {
			return err
		}
		for _, ob := range rq.OrderBy {
			if ob.Relation == "" {
				continue
			}
			if sub := target.Relation(ob.Relation); sub != nil {
				s.add(sub.Target)
			}
		}
		if err := p.addInclude(s, target, rq.Include); err != nil {
			return err
		}
	}
	return nil
}

// CreateScope returns the stores a create may touch: the primary store,
// every BelongsTo target (foreign-key existence checks), stores named by
// nested writes (recursively), and the outbox store when capture is
// enabled and the scope reaches a tracked model.
func (p *Planner) CreateScope(model string, in *query.CreateInput, capture bool) ([]string, error) {
	s := scope{}
	if err := p.addCreate(s, model, in); err != nil {
		return nil, err
	}
	p.addOutbox(s, capture)
	return s.sorted(), nil
}

func (p *Planner) addCreate(s scope, model string, in *query.CreateInput) error {
	m, err := p.reg.Model(model)
	if err != nil {
		return err
	}
	s.add(m.Name)
	// FK existence checks read every BelongsTo target.
	for i := range m.Relations {
		if m.Relations[i].Kind == schema.BelongsTo {
			s.add(m.Relations[i].Target)
		}
	}
	if in == nil {
		return nil
	}
	return p.addNested(s, m, in.Nested)
}

func (p *Planner) addNested(s scope, m *schema.Model, nested map[string]*query.NestedWrite) error {
	for name, nw := range nested {
		rel := m.Relation(name)
		if rel == nil || nw == nil {
			continue
		}
		target, err := p.reg.Model(rel.Target)
		if err != nil {
			return err
		}
		s.add(target.Name)
		for _, ci := range nw.Create {
			if err := p.addCreate(s, target.Name, ci); err != nil {
				return err
			}
		}
		for _, coc := range nw.ConnectOrCreate {
			if coc != nil && coc.Create != nil {
				if err := p.addCreate(s, target.Name, coc.Create); err != nil {
					return err
				}
			}
		}
		for _, nu := range nw.Update {
			if nu != nil && nu.Data != nil {
				if err := p.addUpdate(s, target.Name, nu.Data); err != nil {
					return err
				}
			}
		}
		for _, up := range nw.Upsert {
			if up == nil {
				continue
			}
			if up.Create != nil {
				if err := p.addCreate(s, target.Name, up.Create); err != nil {
					return err
				}
			}
			if up.Update != nil {
				if err := p.addUpdate(s, target.Name, up.Update); err != nil {
					return err
				}
			}
		}
		if len(nw.Delete) > 0 {
			p.addDependentClosure(s, target.Name, map[string]bool{})
		}
	}
	return nil
}

// UpdateScope returns the stores an update may touch: the primary store,
// BelongsTo targets, nested-write stores, the dependent closure (a primary
// key change cascades foreign-key rewrites), and the outbox store when
// capture is enabled and the scope reaches a tracked model.
func (p *Planner) UpdateScope(model string, in *query.UpdateInput, capture bool) ([]string, error) {
	s := scope{}
	if err := p.addUpdate(s, model, in); err != nil {
		return nil, err
	}
	p.addOutbox(s, capture)
	return s.sorted(), nil
}

func (p *Planner) addUpdate(s scope, model string, in *query.UpdateInput) error {
	m, err := p.reg.Model(model)
	if err != nil {
		return err
	}
	s.add(m.Name)
	for i := range m.Relations {
		if m.Relations[i].Kind == schema.BelongsTo {
			s.add(m.Relations[i].Target)
		}
	}
	// Conservative: a primary-key change rewrites dependents, which may
	// themselves rename.
	p.addDependentClosure(s, m.Name, map[string]bool{})
	if in == nil {
		return nil
	}
	return p.addNested(s, m, in.Nested)
}

// DeleteScope returns the stores a delete may touch: the full cascade
// closure, plus the outbox store when capture is enabled and any model in
// the closure is tracked. A cascade through an untracked parent still
// captures events for its tracked dependents.
func (p *Planner) DeleteScope(model string, capture bool) ([]string, error) {
	if _, err := p.reg.Model(model); err != nil {
		return nil, err
	}
	s := scope{}
	p.addDependentClosure(s, model, map[string]bool{})
	p.addOutbox(s, capture)
	return s.sorted(), nil
}

// UpsertScope is the union of the create and update scopes.
func (p *Planner) UpsertScope(model string, create *query.CreateInput, update *query.UpdateInput, capture bool) ([]string, error) {
	s := scope{}
	if err := p.addCreate(s, model, create); err != nil {
		return nil, err
	}
	if err := p.addUpdate(s, model, update); err != nil {
		return nil, err
	}
	p.addOutbox(s, capture)
	return s.sorted(), nil
}

// addOutbox widens the scope with the outbox store when capture is enabled
// and any store already in scope belongs to a tracked model. Tracked
// dependents of an untracked root append events too, so trackedness is
// judged over the whole scope, not the root alone.
func (p *Planner) addOutbox(s scope, capture bool) {
	if !capture {
		return
	}
	for store := range s {
		m, err := p.reg.Model(store)
		if err != nil {
			continue
		}
		if m.Tracked {
			s.add(kv.OutboxStore)
			return
		}
	}
}

// addDependentClosure adds the model and, transitively, every dependent
// store. Deletes reach dependents through cascade or setNull; key renames
// reach them through foreign-key rewrites. The visited set guards
// self-referential schemas.
func (p *Planner) addDependentClosure(s scope, model string, visited map[string]bool) {
	if visited[model] {
		return
	}
	visited[model] = true
	s.add(model)
	for _, dep := range p.reg.Dependents(model) {
		p.addDependentClosure(s, dep.Model.Name, visited)
	}
}
