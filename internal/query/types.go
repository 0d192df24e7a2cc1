package query

import "github.com/roach88/replica/internal/record"

// Pred is a sealed interface over field-level predicates.
//
// Predicate types:
//   - Equals / NotEquals: direct (in)equality, including null checks
//   - In / NotIn: membership over a literal list
//   - Lt / Lte / Gt / Gte: relational comparison
//   - Contains / StartsWith / EndsWith: substring matching with an
//     optional case-insensitivity toggle
//   - Has / HasSome / HasEvery / IsEmpty: list-field operators
//   - IsNull: explicit null/non-null check
//   - AllOf: conjunction of predicates on the same field (ranges)
type Pred interface {
	pred() // Marker method - seals interface to this package
}

// Equals matches when the field value equals Value. Equals with a
// record.Null value matches null (or absent) fields.
type Equals struct {
	Value record.Value
}

func (Equals) pred() {}

// NotEquals matches when the field value differs from Value.
type NotEquals struct {
	Value record.Value
}

func (NotEquals) pred() {}

// In matches when the field value equals any of Values.
type In struct {
	Values []record.Value
}

func (In) pred() {}

// NotIn matches when the field value equals none of Values.
// Null field values never match NotIn (consistent with In).
type NotIn struct {
	Values []record.Value
}

func (NotIn) pred() {}

// Lt matches when the field value is strictly less than Value.
// Null field values never satisfy relational predicates.
type Lt struct {
	Value record.Value
}

func (Lt) pred() {}

// Lte matches when the field value is less than or equal to Value.
type Lte struct {
	Value record.Value
}

func (Lte) pred() {}

// Gt matches when the field value is strictly greater than Value.
type Gt struct {
	Value record.Value
}

func (Gt) pred() {}

// Gte matches when the field value is greater than or equal to Value.
type Gte struct {
	Value record.Value
}

func (Gte) pred() {}

// Contains matches string fields containing Value as a substring.
type Contains struct {
	Value       string
	Insensitive bool
}

func (Contains) pred() {}

// StartsWith matches string fields with the given prefix.
type StartsWith struct {
	Value       string
	Insensitive bool
}

func (StartsWith) pred() {}

// EndsWith matches string fields with the given suffix.
type EndsWith struct {
	Value       string
	Insensitive bool
}

func (EndsWith) pred() {}

// Has matches list fields containing Value as an element.
type Has struct {
	Value record.Value
}

func (Has) pred() {}

// HasSome matches list fields containing at least one of Values.
type HasSome struct {
	Values []record.Value
}

func (HasSome) pred() {}

// HasEvery matches list fields containing every one of Values.
type HasEvery struct {
	Values []record.Value
}

func (HasEvery) pred() {}

// IsEmpty matches list fields that are empty (Empty true) or non-empty
// (Empty false). Null lists count as empty.
type IsEmpty struct {
	Empty bool
}

func (IsEmpty) pred() {}

// IsNull matches null fields (Null true) or non-null fields (Null false).
type IsNull struct {
	Null bool
}

func (IsNull) pred() {}

// AllOf matches when every contained predicate matches. Used to express
// ranges such as Gte + Lt on one field.
type AllOf struct {
	Preds []Pred
}

func (AllOf) pred() {}

// Where is the logical filter tree over one model's records.
//
// Semantics are conjunctive at the top level: a record matches when it
// satisfies every Fields predicate, every Relations condition, every And
// sub-filter, at least one Or sub-filter (when Or is non-empty), and no Not
// sub-filter.
type Where struct {
	And []*Where
	Or  []*Where
	Not []*Where

	// Fields maps own-field names to predicates.
	Fields map[string]Pred

	// Relations maps declared relation names to quantified sub-filters,
	// which recurse into the related model's engine.
	Relations map[string]*RelationCond
}

// RelationCond quantifies a sub-filter over a declared relation.
// Some/Every/None apply to to-many relations; Is/IsNot to to-one.
type RelationCond struct {
	Some  *Where
	Every *Where
	None  *Where
	Is    *Where
	IsNot *Where
}

// OrderBy is one ordering key. Later keys break ties from earlier keys.
//
// Exactly one of the following shapes is valid:
//   - Field set: order by an own field
//   - Relation + RelationField set: order by a field of a to-one relation
//   - Relation + Count set: order by the size of a to-many relation
//
// Ordering by a nested relation's relation is rejected by the engine.
type OrderBy struct {
	Field         string
	Relation      string
	RelationField string
	Count         bool
	Direction     record.Direction
	Nulls         record.NullsPlacement
}

// Select is an allow-list of own fields to project. nil means all own
// fields.
type Select []string

// Include requests related records, keyed by relation name. Relation
// loading is lazy and query-shaped: only included relations are fetched.
type Include map[string]*RelationQuery

// RelationQuery shapes an included relation's sub-query.
type RelationQuery struct {
	Where   *Where
	OrderBy []OrderBy
	Select  Select
	Include Include
	Take    *int
	Skip    int
}

// FindArgs are the arguments to findMany/findFirst and their variants.
type FindArgs struct {
	Where    *Where
	OrderBy  []OrderBy
	Select   Select
	Include  Include
	Take     *int
	Skip     int
	Distinct []string
}

// UniqueWhere identifies exactly one record by primary key or by a declared
// unique index: its keys must cover one of those field sets exactly.
type UniqueWhere map[string]record.Value

// AggregateArgs selects aggregations over a filtered record set.
type AggregateArgs struct {
	Where *Where
	Count bool
	Min   []string
	Max   []string
}

// AggregateResult carries aggregation output. Min/Max values are null when
// no non-null field value exists.
type AggregateResult struct {
	Count int
	Min   map[string]record.Value
	Max   map[string]record.Value
}

// CreateInput is the argument to create. Data holds own-field values;
// Nested holds relation writes keyed by relation name.
type CreateInput struct {
	Data   record.Record
	Nested map[string]*NestedWrite
}

// UpdateInput is the argument to update. Set holds own-field assignments;
// Nested holds relation writes keyed by relation name.
type UpdateInput struct {
	Set    record.Record
	Nested map[string]*NestedWrite
}

// NestedWrite is the closed set of relation-operation variants usable
// inside a create or update.
//
// Create/Connect/ConnectOrCreate are valid in both contexts. Update,
// Upsert, Delete, Disconnect, and Set are update-only. Set distinguishes
// "absent" from "empty" via SetPresent: an empty Set clears the relation,
// which is an invalid-relation-operation error on a required foreign key.
type NestedWrite struct {
	Create          []*CreateInput
	Connect         []UniqueWhere
	ConnectOrCreate []*ConnectOrCreate

	Update     []*NestedUpdate
	Upsert     []*NestedUpsert
	Delete     []UniqueWhere
	Disconnect []UniqueWhere
	Set        []UniqueWhere
	SetPresent bool
}

// ConnectOrCreate resolves Where to an existing record, creating Create
// when absent.
type ConnectOrCreate struct {
	Where  UniqueWhere
	Create *CreateInput
}

// NestedUpdate updates one related record identified by Where.
type NestedUpdate struct {
	Where UniqueWhere
	Data  *UpdateInput
}

// NestedUpsert updates the related record identified by Where, creating it
// when absent.
type NestedUpsert struct {
	Where  UniqueWhere
	Create *CreateInput
	Update *UpdateInput
}
