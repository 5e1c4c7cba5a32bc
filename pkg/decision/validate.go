package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/schema"
	"github.com/aretw0/waypoint/pkg/tools"
)

// envelope is the loosely typed intermediate form of a raw decision.
type envelope struct {
	Action     string         `mapstructure:"action"`
	Reasoning  []string       `mapstructure:"reasoning"`
	Response   any            `mapstructure:"response"`
	NextStepID string         `mapstructure:"next_step_id"`
	ToolName   string         `mapstructure:"tool_name"`
	ToolKwargs map[string]any `mapstructure:"tool_kwargs"`
}

// Validate parses raw LLM output and checks it against s.
// It returns the typed Decision, or a *domain.SchemaValidationError listing every
// violation found. Fields that do not belong to the chosen action are ignored.
func Validate(s *Schema, raw []byte) (domain.Decision, error) {
	invalid := func(vs ...domain.Violation) error {
		return &domain.SchemaValidationError{StepID: s.StepID, Violations: vs}
	}

	var doc map[string]any
	if err := json.Unmarshal(stripFences(raw), &doc); err != nil {
		return nil, invalid(domain.Violation{Reason: fmt.Sprintf("output is not a JSON object: %v", err)})
	}

	var env envelope
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &env,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, invalid(domain.Violation{Reason: fmt.Sprintf("malformed decision: %v", err)})
	}

	action := domain.Action(strings.ToUpper(strings.TrimSpace(env.Action)))
	if action == "" {
		return nil, invalid(domain.Violation{Field: "action", Reason: "is required"})
	}
	if !s.Allows(action) {
		return nil, invalid(domain.Violation{
			Field:  "action",
			Reason: fmt.Sprintf("%q is not allowed here; expected one of %s", env.Action, joinActions(s.Actions)),
		})
	}

	var vs []domain.Violation
	var d domain.Decision
	switch action {
	case domain.ActionAsk:
		text, v := textResponse(env.Response)
		vs = append(vs, v...)
		d = domain.Ask{Reasoning: env.Reasoning, Response: text}
	case domain.ActionAnswer:
		if len(s.AnswerModel) > 0 {
			obj, v := structuredResponse(s.AnswerModel, env.Response)
			vs = append(vs, v...)
			d = domain.Answer{Reasoning: env.Reasoning, Structured: obj}
		} else {
			text, v := textResponse(env.Response)
			vs = append(vs, v...)
			d = domain.Answer{Reasoning: env.Reasoning, Response: text}
		}
	case domain.ActionMove:
		switch {
		case env.NextStepID == "":
			vs = append(vs, domain.Violation{Field: "next_step_id", Reason: "is required"})
		case !slices.Contains(s.RouteTargets(), env.NextStepID):
			vs = append(vs, domain.Violation{
				Field:  "next_step_id",
				Reason: fmt.Sprintf("%q is not a route of this step; expected one of %s", env.NextStepID, strings.Join(s.RouteTargets(), ", ")),
			})
		}
		d = domain.Move{Reasoning: env.Reasoning, NextStepID: env.NextStepID}
	case domain.ActionToolCall:
		vs = append(vs, toolViolations(s, env.ToolName, env.ToolKwargs)...)
		kwargs := env.ToolKwargs
		if kwargs == nil {
			kwargs = map[string]any{}
		}
		d = domain.ToolCall{Reasoning: env.Reasoning, ToolName: env.ToolName, Kwargs: kwargs}
	case domain.ActionEnd:
		d = domain.End{Reasoning: env.Reasoning}
	}

	if len(vs) > 0 {
		return nil, invalid(vs...)
	}
	return d, nil
}

func textResponse(v any) (string, []domain.Violation) {
	switch r := v.(type) {
	case nil:
		return "", []domain.Violation{{Field: "response", Reason: "is required"}}
	case string:
		if strings.TrimSpace(r) == "" {
			return "", []domain.Violation{{Field: "response", Reason: "must not be empty"}}
		}
		return r, nil
	default:
		return "", []domain.Violation{{Field: "response", Reason: fmt.Sprintf("must be a string, got %T", v)}}
	}
}

func structuredResponse(model []domain.Parameter, v any) (map[string]any, []domain.Violation) {
	obj, ok := v.(map[string]any)
	if !ok {
		// Models sometimes return the object serialized inside a string.
		if str, isStr := v.(string); isStr {
			ok = json.Unmarshal([]byte(str), &obj) == nil && obj != nil
		}
	}
	if !ok {
		return nil, []domain.Violation{{Field: "response", Reason: "must be an object matching the answer model"}}
	}

	fields, err := tools.Fields(model)
	if err != nil {
		return nil, []domain.Violation{{Field: "response", Reason: err.Error()}}
	}
	out, err := schema.Check(fields, obj)
	if err != nil {
		return nil, fieldViolations("response", err)
	}
	return out, nil
}

func toolViolations(s *Schema, name string, kwargs map[string]any) []domain.Violation {
	if name == "" {
		return []domain.Violation{{Field: "tool_name", Reason: "is required"}}
	}
	contract, ok := s.Tool(name)
	if !ok {
		names := make([]string, len(s.Tools))
		for i, t := range s.Tools {
			names[i] = t.Name
		}
		return []domain.Violation{{
			Field:  "tool_name",
			Reason: fmt.Sprintf("%q is not available in this step; expected one of %s", name, strings.Join(names, ", ")),
		}}
	}

	fields, err := tools.Fields(contract.Parameters)
	if err != nil {
		return []domain.Violation{{Field: "tool_kwargs", Reason: err.Error()}}
	}
	if _, err := schema.Check(fields, kwargs); err != nil {
		return fieldViolations("tool_kwargs", err)
	}
	return nil
}

func fieldViolations(prefix string, err error) []domain.Violation {
	errs := schema.ValidationErrors(err)
	if errs == nil {
		return []domain.Violation{{Field: prefix, Reason: err.Error()}}
	}
	out := make([]domain.Violation, 0, len(errs))
	for _, e := range errs {
		if ve, ok := e.(*schema.ValidationError); ok {
			out = append(out, domain.Violation{Field: prefix + "." + ve.Key, Reason: ve.Reason})
			continue
		}
		out = append(out, domain.Violation{Field: prefix, Reason: e.Error()})
	}
	return out
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(raw []byte) []byte {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = b[3:]
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
	return bytes.TrimSpace(b)
}

func joinActions(actions []domain.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
