/*
Package domain contains the core entities of the Sluice workflow engine.

It defines the process graph (ProcessDefinition, Node, Edge), the runtime
state that moves across it (Token, ProcessInstance, TaskInstance) and the
scoped variable view handed to service handlers (ExecutionContext). The
package is kept free of I/O and persistence concerns, following Hexagonal
Architecture principles: stores, transports and the engine itself all
depend on it, never the other way around.

# Key Entities

  - ProcessDefinition: the immutable deployed graph template. Nodes and
    edges live in flat maps keyed by id; edges reference node ids, never
    pointers, so the graph has no ownership cycles and runtime state
    stays trivially serializable.
  - Node: a typed vertex (event, task or gateway) identified by its Kind.
  - Edge: a directed sequence flow, optionally guarded by a boolean
    condition expression and optionally flagged as the default route.
  - Token: one thread of control through an instance, carrying a private
    variable snapshot.
  - ProcessInstance: one running execution of a definition.
  - TaskInstance: an open unit of human work created when a token parks
    at a user task.
*/
package domain
