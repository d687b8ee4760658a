/*
Package dsl provides a Go DSL (Domain Specific Language) for programmatically constructing process definitions.

It lets developers assemble workflow graphs with a type-safe, fluent builder instead of wiring
domain.Node and domain.Edge values by hand. This is particularly useful for definitions that live
next to the code that serves them, for unit tests, and for leveraging IDE autocompletion.

Example usage:

	package main

	import (
		"github.com/aretw0/sluice/pkg/dsl"
	)

	func main() {
		p := dsl.NewProcess("order", "Order Fulfillment")

		p.Start("received").To("charge")

		p.Service("charge", "payments.charge").To("decide")

		p.Exclusive("decide").
			When("amount > 1000", "approve").
			DefaultTo("done")

		p.User("approve").
			Assignee("ops").
			Form("approved", "boolean", "Approve this order?", true).
			To("done")

		p.End("done")

		def, err := p.Build()
		// ... deploy def on an engine
		_, _ = def, err
	}
*/
package dsl
