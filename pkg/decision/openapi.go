package decision

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/schema"
)

// OpenAPI renders the contract as an OpenAPI 3 schema: a oneOf with one variant per
// allowed action, and one TOOL_CALL variant per tool.
func (s *Schema) OpenAPI() *openapi3.Schema {
	var variants []*openapi3.Schema
	for _, a := range s.Actions {
		switch a {
		case domain.ActionAsk:
			variants = append(variants, variant(a).
				WithProperty("response", openapi3.NewStringSchema().WithMinLength(1)).
				WithRequired([]string{"action", "reasoning", "response"}))
		case domain.ActionAnswer:
			response := openapi3.NewStringSchema().WithMinLength(1)
			if len(s.AnswerModel) > 0 {
				response = objectOf(s.AnswerModel)
			}
			variants = append(variants, variant(a).
				WithProperty("response", response).
				WithRequired([]string{"action", "reasoning", "response"}))
		case domain.ActionMove:
			targets := make([]any, len(s.Routes))
			for i, r := range s.Routes {
				targets[i] = r.Target
			}
			variants = append(variants, variant(a).
				WithProperty("next_step_id", openapi3.NewStringSchema().WithEnum(targets...)).
				WithRequired([]string{"action", "reasoning", "next_step_id"}))
		case domain.ActionToolCall:
			for _, t := range s.Tools {
				v := variant(a).
					WithProperty("tool_name", openapi3.NewStringSchema().WithEnum(t.Name)).
					WithProperty("tool_kwargs", objectOf(t.Parameters)).
					WithRequired([]string{"action", "reasoning", "tool_name", "tool_kwargs"})
				v.Description = t.Description
				variants = append(variants, v)
			}
		case domain.ActionEnd:
			variants = append(variants, variant(a).WithRequired([]string{"action", "reasoning"}))
		}
	}

	root := openapi3.NewOneOfSchema(variants...)
	root.Title = "decision:" + s.StepID
	return root
}

func variant(a domain.Action) *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("action", openapi3.NewStringSchema().WithEnum(string(a))).
		WithProperty("reasoning", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
}

func objectOf(params []domain.Parameter) *openapi3.Schema {
	closed := false
	obj := openapi3.NewObjectSchema()
	obj.AdditionalProperties = openapi3.AdditionalProperties{Has: &closed}
	var required []string
	for _, p := range params {
		prop := typeSchema(p.Type)
		prop.Description = p.Description
		if p.Default != nil {
			prop.Default = p.Default
		}
		obj.WithProperty(p.Key, prop)
		if p.Required && p.Default == nil {
			required = append(required, p.Key)
		}
	}
	if len(required) > 0 {
		obj.WithRequired(required)
	}
	return obj
}

func typeSchema(notation string) *openapi3.Schema {
	t, err := schema.ParseType(notation)
	if err != nil {
		return openapi3.NewSchema()
	}
	return openapiType(t)
}

func openapiType(t schema.Type) *openapi3.Schema {
	switch tt := t.(type) {
	case *schema.StringType:
		return openapi3.NewStringSchema()
	case *schema.IntType:
		return openapi3.NewIntegerSchema()
	case *schema.FloatType:
		return openapi3.NewFloat64Schema()
	case *schema.BoolType:
		return openapi3.NewBoolSchema()
	case *schema.ObjectType:
		return openapi3.NewObjectSchema()
	case *schema.SliceType:
		return openapi3.NewArraySchema().WithItems(openapiType(tt.Elem()))
	default:
		return openapi3.NewSchema()
	}
}
