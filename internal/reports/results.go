package reports

import (
	"fmt"
)

// Results is the flat result bag of a tree: result key -> payload
type Results map[string]any

// Merge copies every entry of others into r
func (r Results) Merge(others ...Results) Results {
	for _, other := range others {
		for key, value := range other {
			r[key] = value
		}
	}
	return r
}

// Keys returns the result keys in no particular order
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	return keys
}

// AsResults accepts a Results value or a plain map (as produced by decoding JSON)
func AsResults(v any) (Results, error) {
	switch r := v.(type) {
	case Results:
		return r, nil
	case map[string]any:
		return Results(r), nil
	case nil:
		return Results{}, nil
	}
	return nil, fmt.Errorf("expected result map, got %T", v)
}
