/*
Package waypoint is a configuration-driven runtime for conversational agents.

An agent is a graph of named steps. On every turn an LLM picks one decision for the
current step: ASK the user, ANSWER directly, MOVE to a routed step, call a TOOL, or
END the conversation. The runtime builds the decision contract of each step,
validates the LLM output against it, dispatches the decision and persists the
session after every completed dispatch.

# Usage

	agent, err := waypoint.Load(ctx, "agent.yaml", waypoint.WithLLM(myLLM))
	if err != nil {
		log.Fatal(err)
	}
	defer agent.Close()

	res, err := agent.CreateSession(ctx)
	if err != nil {
		log.Fatal(err)
	}

	res, err = agent.Turn(ctx, res.SessionID, "Where is my order 42?")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Decision)

The definition file declares the persona, the start step, steps with their routes
and tools, flow groups and the runtime block (error budget, fallback policy,
store, LLM). See pkg/loader for the format.
*/
package waypoint
