// Package tools holds the tool registry and the invoker that runs tools with
// validated arguments.
//
// A tool pairs a domain.Tool definition (name, description, typed parameters)
// with a Capability, the function that does the work. Capabilities backed by
// external processes or HTTP endpoints live in the adapters packages.
package tools
