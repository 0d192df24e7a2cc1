// Package query defines the typed query algebra evaluated by the model
// engine: field predicates, the logical filter tree, ordering and projection
// specs, and the argument shapes for every engine operation.
//
// ARCHITECTURE:
//
// The algebra replaces a dynamic, schema-shaped argument tree with a small
// closed set of types:
//
//	[caller args] → [Where / OrderBy / Select / Include] → [engine evaluation]
//	[caller args] → [CreateInput / UpdateInput / NestedWrite] → [engine writes]
//
// SEALED INTERFACES:
//
// Pred is a sealed interface using the marker method pattern. Only types in
// this package implement it, so the evaluator's type switch is exhaustive
// and external packages cannot smuggle in new predicate kinds.
//
// NULL SEMANTICS:
//
// A nil Pred means "no constraint". Equals{Value: record.Null{}} means
// "field is null". A field absent from a record is treated as null during
// evaluation.
//
// COMBINATORS:
//
// IntersectByKey, UnionByKey, and ExcludeByKey implement AND/OR/NOT set
// semantics over already-loaded candidate records, keyed by the encoded
// primary-key path. Union preserves insertion order and keeps the first
// occurrence of a duplicate key.
package query
