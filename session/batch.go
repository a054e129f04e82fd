package session

import "errors"

// errMissing marks a key without a value in a batch result.
var errMissing = errors.New("session: no row for key")

// keyFunc extracts the batch key of a value.
type keyFunc[K comparable, V any] func(V) K

// orderByKeys reorders values to match keys. Keys without a value are
// reported with errMissing at their position.
func orderByKeys[K comparable, V any](keys []K, values []V, keyFn keyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = errMissing
		}
	}
	return result, errs
}

// groupByKey groups values by key, keeping their order within a group.
func groupByKey[K comparable, V any](values []V, keyFn keyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// orderGroupsByKeys returns the group of every key, in key order. Keys
// without values get an empty group.
func orderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}
