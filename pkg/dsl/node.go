package dsl

import "github.com/aretw0/sluice/pkg/domain"

// NodeBuilder configures one node and declares its outgoing flows.
type NodeBuilder struct {
	process *Process
	node    *domain.Node
}

// Name sets the node's display name.
func (n *NodeBuilder) Name(name string) *NodeBuilder {
	n.node.Name = name
	return n
}

// Assignee routes the user task directly to one person.
func (n *NodeBuilder) Assignee(assignee string) *NodeBuilder {
	n.node.Assignee = assignee
	return n
}

// CandidateUsers lists the people who may claim the user task.
func (n *NodeBuilder) CandidateUsers(users ...string) *NodeBuilder {
	n.node.CandidateUsers = append(n.node.CandidateUsers, users...)
	return n
}

// CandidateGroups lists the groups who may claim the user task.
func (n *NodeBuilder) CandidateGroups(groups ...string) *NodeBuilder {
	n.node.CandidateGroups = append(n.node.CandidateGroups, groups...)
	return n
}

// FormKey references an externally rendered form for the user task.
func (n *NodeBuilder) FormKey(key string) *NodeBuilder {
	n.node.FormKey = key
	return n
}

// Form appends a form field description to the user task.
func (n *NodeBuilder) Form(id, fieldType, label string, required bool) *NodeBuilder {
	n.node.AddFormField(id, fieldType, label, required)
	return n
}

// Duration stores an ISO-8601 duration hint on an intermediate event.
func (n *NodeBuilder) Duration(iso string) *NodeBuilder {
	n.node.SetProperty("duration", iso)
	return n
}

// Property stores an arbitrary attribute on the node.
func (n *NodeBuilder) Property(key string, value any) *NodeBuilder {
	n.node.SetProperty(key, value)
	return n
}

// To declares an unconditional flow to the target node.
func (n *NodeBuilder) To(target string) *NodeBuilder {
	n.process.flows = append(n.process.flows, flow{source: n.node.ID, target: target})
	return n
}

// When declares a conditioned flow to the target node. On exclusive
// gateways conditions are evaluated in the order they were declared.
func (n *NodeBuilder) When(condition, target string) *NodeBuilder {
	n.process.flows = append(n.process.flows, flow{source: n.node.ID, target: target, condition: condition})
	return n
}

// DefaultTo declares the flow taken when no condition on the gateway
// holds.
func (n *NodeBuilder) DefaultTo(target string) *NodeBuilder {
	n.process.flows = append(n.process.flows, flow{source: n.node.ID, target: target, def: true})
	return n
}
