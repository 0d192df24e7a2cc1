package query

import "github.com/roach88/replica/internal/record"

// KeyFunc derives the identity key of a record, normally its encoded
// primary-key path.
type KeyFunc func(record.Record) (string, error)

// IntersectByKey returns the records present in every set, keyed by
// KeyFunc. The result preserves the order of the first set. Intersecting
// zero sets yields nil.
func IntersectByKey(sets [][]record.Record, key KeyFunc) ([]record.Record, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	if len(sets) == 1 {
		return sets[0], nil
	}

	// Count key occurrences per set (each set counts a key once).
	seen := make(map[string]int)
	for _, set := range sets[1:] {
		inSet := make(map[string]bool, len(set))
		for _, rec := range set {
			k, err := key(rec)
			if err != nil {
				return nil, err
			}
			if !inSet[k] {
				inSet[k] = true
				seen[k]++
			}
		}
	}

	need := len(sets) - 1
	var out []record.Record
	emitted := make(map[string]bool)
	for _, rec := range sets[0] {
		k, err := key(rec)
		if err != nil {
			return nil, err
		}
		if seen[k] == need && !emitted[k] {
			emitted[k] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// UnionByKey merges the sets preserving insertion order; on duplicate keys
// the first occurrence wins.
func UnionByKey(sets [][]record.Record, key KeyFunc) ([]record.Record, error) {
	var out []record.Record
	emitted := make(map[string]bool)
	for _, set := range sets {
		for _, rec := range set {
			k, err := key(rec)
			if err != nil {
				return nil, err
			}
			if emitted[k] {
				continue
			}
			emitted[k] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// ExcludeByKey returns the candidates whose key does not appear in
// excluded, preserving candidate order.
func ExcludeByKey(candidates, excluded []record.Record, key KeyFunc) ([]record.Record, error) {
	drop := make(map[string]bool, len(excluded))
	for _, rec := range excluded {
		k, err := key(rec)
		if err != nil {
			return nil, err
		}
		drop[k] = true
	}

	var out []record.Record
	for _, rec := range candidates {
		k, err := key(rec)
		if err != nil {
			return nil, err
		}
		if !drop[k] {
			out = append(out, rec)
		}
	}
	return out, nil
}
