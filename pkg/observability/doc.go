/*
Package observability exports engine activity as Prometheus metrics.

Metrics subscribes to the engine's lifecycle event bus for instance and
task counters and gauges, and plugs into the handler registry as
middleware to time service task executions. Wiring is opt-in:

	m := observability.NewMetrics(nil)
	m.Observe(eng.Bus())
	eng.Registry().Use(m.HandlerDuration())
*/
package observability
