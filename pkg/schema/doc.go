// Package schema provides the typed value system used for tool parameters and
// structured answer models.
//
// It defines a small set of types addressed by name: string, int, float, bool,
// object, any, and slices written as [T]. An ordered Field list is checked
// against decoded JSON arguments with Check:
//
//	fields := []schema.Field{
//	    {Key: "city", Type: schema.String(), Required: true},
//	    {Key: "days", Type: schema.Int(), Default: 3},
//	}
//
//	args, err := schema.Check(fields, kwargs)
//	for _, e := range schema.ValidationErrors(err) {
//	    // one *ValidationError per failing field
//	}
//
// Values decoded from JSON carry every number as float64. Coerce converts whole
// numbers back to int where the declared type asks for one.
package schema
