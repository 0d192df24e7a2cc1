// Package schema declares entity descriptors: fields and their kinds,
// primary keys, unique indexes, relations with cascade policies, default
// generators, and the tracked flag that routes mutations into the outbox.
//
// The registry validates a schema once at construction and precomputes the
// reverse dependent index used for cascades and key-rename propagation, so
// the engine never resolves structure dynamically per call.
package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/replica/internal/record"
)

// Kind enumerates scalar field kinds.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindTime
	KindBytes
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Default enumerates generation defaults filled on create when the field is
// absent. Supplied values are never overwritten.
type Default int

const (
	DefaultNone Default = iota
	// DefaultUUID fills a random UUID string.
	DefaultUUID
	// DefaultNow fills the current UTC timestamp.
	DefaultNow
	// DefaultAutoIncrement fills the next value of a per-field counter.
	DefaultAutoIncrement
	// DefaultContentHash fills a hex digest of the record's own supplied
	// fields, giving content-addressed identity.
	DefaultContentHash
)

// Field describes one own field of a model.
type Field struct {
	Name     string
	Kind     Kind
	List     bool
	Optional bool
	Default  Default
}

// OnDelete is the referential policy applied to a dependent record when the
// record it references is deleted.
type OnDelete int

const (
	// Cascade deletes the dependent.
	Cascade OnDelete = iota
	// Restrict fails the parent delete while dependents exist.
	Restrict
	// SetNull nulls the dependent's foreign-key fields. Requires the
	// fields to be optional.
	SetNull
)

// RelationKind distinguishes which side holds the foreign key.
type RelationKind int

const (
	// BelongsTo: this model holds the foreign key (to-one).
	BelongsTo RelationKind = iota + 1
	// HasOne: the target holds the foreign key (to-one).
	HasOne
	// HasMany: the target holds the foreign key (to-many).
	HasMany
)

// Relation describes one declared relation of a model.
//
// For BelongsTo, Fields name the FK fields on this model and References the
// referenced fields on the target. For HasOne/HasMany, Fields name the FK
// fields on the target and References the referenced fields on this model.
// OnDelete is meaningful on BelongsTo: it is the policy applied to THIS
// record when the referenced target is deleted.
type Relation struct {
	Name       string
	Target     string
	Kind       RelationKind
	Fields     []string
	References []string
	Optional   bool
	OnDelete   OnDelete
}

// ToMany reports whether the relation yields a record list.
func (r *Relation) ToMany() bool { return r.Kind == HasMany }

// Model is the static descriptor of one entity type.
type Model struct {
	Name       string
	Fields     []Field
	PrimaryKey []string
	Uniques    [][]string
	Relations  []Relation
	// Tracked routes the model's mutations into the outbox.
	Tracked bool
	// Validator, when set, checks every record before it is stored: local
	// creates and updates as well as payloads arriving from the remote
	// side (pull pages and push merge results).
	Validator Validator

	fieldIndex map[string]*Field
	relIndex   map[string]*Relation
}

// Field returns the named field descriptor, or nil.
func (m *Model) Field(name string) *Field { return m.fieldIndex[name] }

// Relation returns the named relation descriptor, or nil.
func (m *Model) Relation(name string) *Relation { return m.relIndex[name] }

// KeyPathOf extracts the record's primary-key path.
func (m *Model) KeyPathOf(rec record.Record) record.KeyPath {
	return record.KeyOf(rec, m.PrimaryKey)
}

// KeyOf encodes the record's primary-key path to its store-key form.
func (m *Model) KeyOf(rec record.Record) (string, error) {
	return m.KeyPathOf(rec).Encode()
}

// UniqueFor returns the field set (primary key or a declared unique index)
// exactly covered by the given field names, or nil when none matches.
func (m *Model) UniqueFor(fields []string) []string {
	if coversExactly(fields, m.PrimaryKey) {
		return m.PrimaryKey
	}
	for _, idx := range m.Uniques {
		if coversExactly(fields, idx) {
			return idx
		}
	}
	return nil
}

// UniqueName renders a stable identifier for a unique index's field set.
func UniqueName(fields []string) string {
	name := ""
	for i, f := range fields {
		if i > 0 {
			name += "+"
		}
		name += f
	}
	return name
}

func coversExactly(have, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, f := range have {
		set[f] = true
	}
	for _, f := range want {
		if !set[f] {
			return false
		}
	}
	return true
}

// Dependent names a (model, relation) pair where the model's BelongsTo
// relation references some target model.
type Dependent struct {
	Model    *Model
	Relation *Relation
}

// Registry holds the validated model set and derived indexes. It is
// immutable after construction.
type Registry struct {
	models     map[string]*Model
	dependents map[string][]Dependent
}

// NewRegistry validates the models and builds the registry. Validation
// failures are schema bugs and fail construction outright.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{
		models:     make(map[string]*Model, len(models)),
		dependents: make(map[string][]Dependent),
	}

	for _, m := range models {
		if m.Name == "" {
			return nil, fmt.Errorf("schema: model with empty name")
		}
		if _, dup := r.models[m.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		m.fieldIndex = make(map[string]*Field, len(m.Fields))
		for i := range m.Fields {
			f := &m.Fields[i]
			if _, dup := m.fieldIndex[f.Name]; dup {
				return nil, fmt.Errorf("schema: model %q: duplicate field %q", m.Name, f.Name)
			}
			m.fieldIndex[f.Name] = f
		}
		m.relIndex = make(map[string]*Relation, len(m.Relations))
		for i := range m.Relations {
			rel := &m.Relations[i]
			if _, dup := m.relIndex[rel.Name]; dup {
				return nil, fmt.Errorf("schema: model %q: duplicate relation %q", m.Name, rel.Name)
			}
			m.relIndex[rel.Name] = rel
		}
		if len(m.PrimaryKey) == 0 {
			return nil, fmt.Errorf("schema: model %q: empty primary key", m.Name)
		}
		for _, f := range m.PrimaryKey {
			if m.fieldIndex[f] == nil {
				return nil, fmt.Errorf("schema: model %q: primary key field %q not declared", m.Name, f)
			}
		}
		for _, idx := range m.Uniques {
			for _, f := range idx {
				if m.fieldIndex[f] == nil {
					return nil, fmt.Errorf("schema: model %q: unique index field %q not declared", m.Name, f)
				}
			}
		}
		r.models[m.Name] = m
	}

	// Cross-model checks and the reverse dependent index.
	for _, m := range r.models {
		for i := range m.Relations {
			rel := &m.Relations[i]
			target := r.models[rel.Target]
			if target == nil {
				return nil, fmt.Errorf("schema: model %q: relation %q targets unknown model %q",
					m.Name, rel.Name, rel.Target)
			}
			if len(rel.Fields) == 0 || len(rel.Fields) != len(rel.References) {
				return nil, fmt.Errorf("schema: model %q: relation %q: fields/references length mismatch",
					m.Name, rel.Name)
			}
			owner, referenced := m, target
			if rel.Kind != BelongsTo {
				owner, referenced = target, m
			}
			for _, f := range rel.Fields {
				if owner.fieldIndex[f] == nil {
					return nil, fmt.Errorf("schema: model %q: relation %q: FK field %q not declared on %q",
						m.Name, rel.Name, f, owner.Name)
				}
			}
			for _, f := range rel.References {
				if referenced.fieldIndex[f] == nil {
					return nil, fmt.Errorf("schema: model %q: relation %q: referenced field %q not declared on %q",
						m.Name, rel.Name, f, referenced.Name)
				}
			}
			if rel.Kind == BelongsTo {
				if rel.OnDelete == SetNull {
					for _, f := range rel.Fields {
						if !m.fieldIndex[f].Optional {
							return nil, fmt.Errorf("schema: model %q: relation %q: setNull requires optional FK field %q",
								m.Name, rel.Name, f)
						}
					}
				}
				r.dependents[rel.Target] = append(r.dependents[rel.Target], Dependent{Model: m, Relation: rel})
			}
		}
	}

	// Deterministic dependent order.
	for _, deps := range r.dependents {
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].Model.Name != deps[j].Model.Name {
				return deps[i].Model.Name < deps[j].Model.Name
			}
			return deps[i].Relation.Name < deps[j].Relation.Name
		})
	}

	return r, nil
}

// Model returns the named model descriptor.
func (r *Registry) Model(name string) (*Model, error) {
	m := r.models[name]
	if m == nil {
		return nil, fmt.Errorf("schema: unknown model %q", name)
	}
	return m, nil
}

// Models returns all model descriptors sorted by name.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StoreNames returns the names of all record stores, sorted.
func (r *Registry) StoreNames() []string {
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the (model, BelongsTo relation) pairs referencing the
// named model, in deterministic order.
func (r *Registry) Dependents(name string) []Dependent {
	return r.dependents[name]
}
