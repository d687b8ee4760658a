/*
Package sluice is an embeddable, token-based workflow engine for orchestrating
long-running business processes: ordered mixes of automated service calls,
human approval steps and conditional or parallel routing.

It implements a "Tokens over an Immutable Graph" architecture, separating the
process definition (the graph) from the execution state (instances and their
tokens) and from side-effects (service task handlers).

# Concept

Sluice treats a business process as a directed graph of typed nodes: events,
service tasks, user tasks and gateways. Starting a process creates an
instance and places a token on each start event. The engine then drives every
token along the sequence flows, invoking registered handlers at service
tasks, fanning out at parallel gateways and picking one route at exclusive
gateways, until the token parks at a user task or retires at an end event.
An instance completes when its last token retires. This hexagonal layout
keeps the core independent of storage and transport, so the engine embeds
equally well in a worker binary, an HTTP server or a test.

# Key Features

  - Deterministic Routing: exclusive gateways take the first matching
    condition in declaration order, then the default flow.
  - Durable Execution: every state transition is persisted before
    callbacks fire; Recover resumes parked work after a restart.
  - Hexagonal Architecture: storage (memory, SQLite, Redis), locking and
    observability plug in through small ports.
  - Human Workflow: user tasks park their token until CompleteTask, with
    assignees and form field metadata for building task lists.

# Usage

Deploy a definition, register handlers for its service tasks, then start
instances. Definitions are easiest to assemble with the pkg/dsl builder.

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/sluice"
		"github.com/aretw0/sluice/pkg/domain"
		"github.com/aretw0/sluice/pkg/dsl"
	)

	func main() {
		p := dsl.NewProcess("order", "Order Fulfillment")
		p.Start("received").To("charge")
		p.Service("charge", "payments.charge").To("approve")
		p.User("approve").Assignee("ops").To("done")
		p.End("done")

		def, err := p.Build()
		if err != nil {
			log.Fatal(err)
		}

		eng := sluice.New()
		defer eng.Close()

		eng.RegisterServiceHandler("payments.charge", func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
			return map[string]any{"charged": true}, nil
		})

		if err := eng.Deploy(def); err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		id, err := eng.Start(ctx, "order", map[string]any{"amount": 125})
		if err != nil {
			log.Fatal(err)
		}

		// The token is now parked at the approval step.
		for _, task := range eng.TasksForAssignee("ops") {
			if _, err := eng.CompleteTask(ctx, task.ID, map[string]any{"approved": true}); err != nil {
				log.Fatal(err)
			}
		}

		inst, _ := eng.Instance(id)
		fmt.Println(inst.Status) // COMPLETED
	}
*/
package sluice
