/*
Package domain contains the core domain models of the Waypoint runtime.

It defines the conversation graph (Steps, Routes, Flow groups), the tools a step may
invoke, the closed set of Decisions an LLM turn can produce, and the per-conversation
Session that the orchestrator mutates. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Step: a named state of the conversation, with routes and permitted tools.
  - FlowGroup: a sub-graph with entry/exit steps and optional scoped memory.
  - Decision: the validated output of one LLM turn (Ask, Answer, Move, ToolCall, End).
  - Session: the mutable snapshot of a conversation (position, flow stack, history, counters).
*/
package domain
