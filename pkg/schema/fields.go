package schema

import (
	"maps"
	"slices"
)

// Field is one declared entry of an ordered, typed argument list.
type Field struct {
	Key      string
	Type     Type
	Required bool
	Default  any
}

// Check validates data against an ordered field list.
// Unknown keys, missing required keys and type mismatches are all reported.
// The returned map has defaults filled in and values coerced to their declared
// types; data itself is not modified.
func Check(fields []Field, data map[string]any) (map[string]any, error) {
	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Key] = true
	}

	var errs []error
	for _, k := range slices.Sorted(maps.Keys(data)) {
		if !declared[k] {
			errs = append(errs, &ValidationError{Key: k, Reason: "unknown field"})
		}
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, present := data[f.Key]
		if !present || v == nil {
			switch {
			case f.Default != nil:
				out[f.Key] = Coerce(f.Type, f.Default)
			case f.Required:
				errs = append(errs, &ValidationError{Key: f.Key, Reason: "required"})
			}
			continue
		}
		if err := f.Type.Validate(v); err != nil {
			errs = append(errs, &ValidationError{Key: f.Key, Reason: err.Error(), Value: v})
			continue
		}
		out[f.Key] = Coerce(f.Type, v)
	}

	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}
