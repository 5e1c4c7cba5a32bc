/*
Package dsl provides a fluent builder for constructing step graphs in Go.

It is an alternative to YAML agent definitions, useful in tests and for graphs
generated at runtime.

Example usage:

	b := dsl.New()

	b.Step("greet").
		Describe("Greet the customer and find out what they need.").
		Tools("echo").
		Go("lookup").
		Branch("the customer is done", "bye")

	b.Step("lookup").
		Describe("Look up the order.").
		MaxIter(3).
		Go("bye")

	b.Step("bye").Describe("Say goodbye.")

	b.Flow("orders").Enters("lookup").Exits("bye").Memory(domain.MemoryRecent, 4)

	g, err := b.Build(graph.WithTools(registry))
*/
package dsl
