// Package schemadiff performs a recursive structural comparison of two
// decoded JSON objects and reports missing fields, new fields, and type
// mismatches.
package schemadiff

import (
	"fmt"
	"sort"

	"github.com/finopsmind/backend/internal/model"
)

// Compute walks expected against actual and returns every structural
// disagreement found. Both arguments must already be decoded JSON objects
// (map[string]any); the caller is responsible for supplying a skip reason
// when either side is absent or not an object.
func Compute(expected, actual map[string]any) model.SchemaDriftResult {
	var result model.SchemaDriftResult
	walk("", expected, actual, &result)
	return result
}

func walk(path string, expected, actual map[string]any, result *model.SchemaDriftResult) {
	keys := make(map[string]struct{}, len(expected)+len(actual))
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range actual {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		expVal, expOK := expected[key]
		actVal, actOK := actual[key]
		childPath := joinPath(path, key)

		switch {
		case expOK && !actOK:
			result.Missing = append(result.Missing, model.SchemaDifference{
				Kind:         model.DiffMissingField,
				Path:         childPath,
				ExpectedType: typeLabel(expVal),
			})
		case !expOK && actOK:
			result.Added = append(result.Added, model.SchemaDifference{
				Kind:       model.DiffNewField,
				Path:       childPath,
				ActualType: typeLabel(actVal),
			})
		default:
			compareValues(childPath, expVal, actVal, result)
		}
	}
}

func compareValues(path string, expected, actual any, result *model.SchemaDriftResult) {
	// expected-null means "unspecified here" — never a mismatch.
	if expected == nil {
		return
	}

	if actual == nil {
		result.TypeChanges = append(result.TypeChanges, model.SchemaDifference{
			Kind:         model.DiffTypeMismatch,
			Path:         path,
			ExpectedType: typeLabel(expected),
			ActualType:   "null",
		})
		return
	}

	expType := typeLabel(expected)
	actType := typeLabel(actual)

	if expType != actType {
		result.TypeChanges = append(result.TypeChanges, model.SchemaDifference{
			Kind:         model.DiffTypeMismatch,
			Path:         path,
			ExpectedType: expType,
			ActualType:   actType,
		})
		return
	}

	switch expType {
	case "object":
		walk(path, expected.(map[string]any), actual.(map[string]any), result)
	case "array":
		compareArrays(path, expected.([]any), actual.([]any), result)
	}
}

// compareArrays descends into the first element of each side only, using
// path suffix "[]."; heterogeneous arrays are not pair-walked beyond
// element zero.
func compareArrays(path string, expected, actual []any, result *model.SchemaDriftResult) {
	if len(expected) == 0 || len(actual) == 0 {
		return
	}

	first := expected[0]
	if _, ok := first.(map[string]any); !ok {
		return
	}
	actualFirst, ok := actual[0].(map[string]any)
	if !ok {
		return
	}

	walk(path+"[]", first.(map[string]any), actualFirst, result)
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func typeLabel(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
