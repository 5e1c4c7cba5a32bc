package domain

// Action is the tag of a Decision variant.
type Action string

const (
	ActionAsk      Action = "ASK"
	ActionAnswer   Action = "ANSWER"
	ActionMove     Action = "MOVE"
	ActionToolCall Action = "TOOL_CALL"
	ActionEnd      Action = "END"
)

// Actions lists every action in canonical order.
var Actions = []Action{ActionAsk, ActionAnswer, ActionMove, ActionToolCall, ActionEnd}

// Decision is the validated output of one LLM turn.
// The set of implementations is closed: Ask, Answer, Move, ToolCall and End.
type Decision interface {
	Action() Action
	Thoughts() []string
	isDecision()
}

// Ask asks the user something and suspends the turn.
type Ask struct {
	Reasoning []string
	Response  string
}

// Answer replies to the user and suspends the turn.
// Structured is set instead of Response when the step declares an answer model.
type Answer struct {
	Reasoning  []string
	Response   string
	Structured map[string]any
}

// Move transitions the session to NextStepID.
type Move struct {
	Reasoning  []string
	NextStepID string
}

// ToolCall invokes ToolName with Kwargs.
type ToolCall struct {
	Reasoning []string
	ToolName  string
	Kwargs    map[string]any
}

// End terminates the session.
type End struct {
	Reasoning []string
}

func (Ask) Action() Action      { return ActionAsk }
func (Answer) Action() Action   { return ActionAnswer }
func (Move) Action() Action     { return ActionMove }
func (ToolCall) Action() Action { return ActionToolCall }
func (End) Action() Action      { return ActionEnd }

func (d Ask) Thoughts() []string      { return d.Reasoning }
func (d Answer) Thoughts() []string   { return d.Reasoning }
func (d Move) Thoughts() []string     { return d.Reasoning }
func (d ToolCall) Thoughts() []string { return d.Reasoning }
func (d End) Thoughts() []string      { return d.Reasoning }

func (Ask) isDecision()      {}
func (Answer) isDecision()   {}
func (Move) isDecision()     {}
func (ToolCall) isDecision() {}
func (End) isDecision()      {}

// Envelope is the flat wire form of a Decision.
type Envelope struct {
	Action     Action         `json:"action"`
	Reasoning  []string       `json:"reasoning"`
	Response   any            `json:"response,omitempty"`
	NextStepID string         `json:"next_step_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolKwargs map[string]any `json:"tool_kwargs,omitempty"`
}

// ToEnvelope converts a Decision into its wire form.
func ToEnvelope(d Decision) Envelope {
	env := Envelope{Action: d.Action(), Reasoning: d.Thoughts()}
	if env.Reasoning == nil {
		env.Reasoning = []string{}
	}
	switch v := d.(type) {
	case Ask:
		env.Response = v.Response
	case Answer:
		if v.Structured != nil {
			env.Response = v.Structured
		} else {
			env.Response = v.Response
		}
	case Move:
		env.NextStepID = v.NextStepID
	case ToolCall:
		env.ToolName = v.ToolName
		env.ToolKwargs = v.Kwargs
	}
	return env
}
