package domain

// Step represents a named state in the conversation graph.
type Step struct {
	ID          string  `json:"id" yaml:"id" mapstructure:"id"`
	Description string  `json:"description" yaml:"description" mapstructure:"description"`
	Routes      []Route `json:"routes,omitempty" yaml:"routes,omitempty" mapstructure:"routes"`

	// AvailableTools lists the tool names this step may invoke, in prompt order.
	AvailableTools []string `json:"available_tools,omitempty" yaml:"available_tools,omitempty" mapstructure:"available_tools"`

	// AnswerModel, when set, turns ANSWER into a structured object with these fields.
	AnswerModel []Parameter `json:"answer_model,omitempty" yaml:"answer_model,omitempty" mapstructure:"answer_model"`

	// AutoFlow makes the engine decide again immediately after a MOVE into this step.
	AutoFlow bool `json:"auto_flow,omitempty" yaml:"auto_flow,omitempty" mapstructure:"auto_flow"`

	// MaxIter bounds consecutive tool calls on this step. Zero means the engine default.
	MaxIter int `json:"max_iter,omitempty" yaml:"max_iter,omitempty" mapstructure:"max_iter"`

	AllowDelegation bool `json:"allow_delegation,omitempty" yaml:"allow_delegation,omitempty" mapstructure:"allow_delegation"`
	MaxDelegation   int  `json:"max_delegation,omitempty" yaml:"max_delegation,omitempty" mapstructure:"max_delegation"`

	// StopOnError terminates the session when a tool invoked from this step fails.
	StopOnError bool `json:"stop_on_error,omitempty" yaml:"stop_on_error,omitempty" mapstructure:"stop_on_error"`
}

// Route is a directed edge from a step to Target.
// Condition is advisory text surfaced to the LLM; it is never evaluated as code.
type Route struct {
	Target    string `json:"target" yaml:"target" mapstructure:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"`
}

// HasRoute reports whether target is one of the step's route targets.
func (s *Step) HasRoute(target string) bool {
	for _, r := range s.Routes {
		if r.Target == target {
			return true
		}
	}
	return false
}

// HasTool reports whether name is listed in the step's available tools.
func (s *Step) HasTool(name string) bool {
	for _, t := range s.AvailableTools {
		if t == name {
			return true
		}
	}
	return false
}

// Memory retrieval methods for flow-scoped history.
const (
	MemoryFull   = "full"
	MemoryRecent = "recent"
	MemoryFlow   = "flow"
)

// MemoryConfig scopes which history a flow exposes to the LLM.
type MemoryConfig struct {
	Method   string `json:"method" yaml:"method" mapstructure:"method"`
	Capacity int    `json:"capacity,omitempty" yaml:"capacity,omitempty" mapstructure:"capacity"`
}

// FlowGroup is a named sub-flow with its own entry and exit points.
type FlowGroup struct {
	ID     string        `json:"id" yaml:"id" mapstructure:"id"`
	Enters []string      `json:"enters" yaml:"enters" mapstructure:"enters"`
	Exits  []string      `json:"exits" yaml:"exits" mapstructure:"exits"`
	Memory *MemoryConfig `json:"memory,omitempty" yaml:"memory,omitempty" mapstructure:"memory"`
}

// IsEntry reports whether stepID is an entry point of the flow.
func (f *FlowGroup) IsEntry(stepID string) bool {
	return contains(f.Enters, stepID)
}

// IsExit reports whether stepID is an exit point of the flow.
func (f *FlowGroup) IsExit(stepID string) bool {
	return contains(f.Exits, stepID)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
