package domain

// Tool defines metadata about a tool available to the engine.
// This is used for generating the decision contract and validating arguments.
type Tool struct {
	Name        string      `json:"name" yaml:"name" mapstructure:"name"`
	Description string      `json:"description" yaml:"description" mapstructure:"description"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}

// Parameter describes one typed field of a tool's arguments or of an answer model.
// Type uses the schema package notation: string, int, float, bool, object, any, [T].
type Parameter struct {
	Key         string `json:"key" yaml:"key" mapstructure:"key"`
	Type        string `json:"type" yaml:"type" mapstructure:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
}

// Param returns the parameter declared with key, if any.
func (t *Tool) Param(key string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Key == key {
			return p, true
		}
	}
	return Parameter{}, false
}

// ToolResult is the recorded outcome of one tool invocation.
type ToolResult struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Result  any            `json:"result,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
	Error   string         `json:"error,omitempty"`
}
