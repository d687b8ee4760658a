package dsl

import (
	"fmt"

	"github.com/aretw0/sluice/pkg/domain"
)

// Process accumulates nodes and sequence flows and compiles them into a
// deployable definition. Declaration order is preserved: the order in
// which flows are declared is the order exclusive gateways evaluate
// their conditions in.
type Process struct {
	id      string
	name    string
	version int

	order []string
	nodes map[string]*NodeBuilder
	flows []flow
	errs  []string
}

type flow struct {
	source    string
	target    string
	condition string
	def       bool
}

// NewProcess starts a definition with the given id and display name.
func NewProcess(id, name string) *Process {
	return &Process{
		id:    id,
		name:  name,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Version stamps the definition with a version number.
func (p *Process) Version(v int) *Process {
	p.version = v
	return p
}

// Start declares a start event.
func (p *Process) Start(id string) *NodeBuilder {
	return p.add(id, domain.KindStartEvent)
}

// End declares an end event.
func (p *Process) End(id string) *NodeBuilder {
	return p.add(id, domain.KindEndEvent)
}

// Wait declares an intermediate event, typically carrying a duration
// property set through NodeBuilder.Duration.
func (p *Process) Wait(id string) *NodeBuilder {
	return p.add(id, domain.KindIntermediateEvent)
}

// Service declares a service task bound to the named handler.
func (p *Process) Service(id, handler string) *NodeBuilder {
	nb := p.add(id, domain.KindServiceTask)
	nb.node.Handler = handler
	return nb
}

// User declares a user task. Assignee, candidates and form fields are
// added through the returned builder.
func (p *Process) User(id string) *NodeBuilder {
	return p.add(id, domain.KindUserTask)
}

// Exclusive declares an exclusive gateway. Route its outgoing flows
// with NodeBuilder.When and NodeBuilder.DefaultTo.
func (p *Process) Exclusive(id string) *NodeBuilder {
	return p.add(id, domain.KindExclusiveGateway)
}

// Parallel declares a parallel gateway.
func (p *Process) Parallel(id string) *NodeBuilder {
	return p.add(id, domain.KindParallelGateway)
}

// Node returns the builder for an already declared node, so flows can
// be added after the fact.
func (p *Process) Node(id string) (*NodeBuilder, bool) {
	nb, ok := p.nodes[id]
	return nb, ok
}

func (p *Process) add(id string, kind domain.NodeKind) *NodeBuilder {
	if existing, ok := p.nodes[id]; ok {
		p.errs = append(p.errs, fmt.Sprintf("node %q declared twice", id))
		return existing
	}
	nb := &NodeBuilder{
		process: p,
		node:    &domain.Node{ID: id, Kind: kind},
	}
	p.order = append(p.order, id)
	p.nodes[id] = nb
	return nb
}

// Build compiles the accumulated graph into a process definition. It
// fails with a *domain.ValidationError when the builder was misused or
// the graph has structural problems; advisory findings such as
// unreachable nodes do not fail the build and surface at deploy time.
func (p *Process) Build() (*domain.ProcessDefinition, error) {
	def := domain.NewProcessDefinition(p.id, p.name)
	def.Version = p.version

	for _, id := range p.order {
		def.AddNode(p.nodes[id].node)
	}
	for i, f := range p.flows {
		def.AddEdge(&domain.Edge{
			ID:        fmt.Sprintf("flow-%d", i+1),
			SourceID:  f.source,
			TargetID:  f.target,
			Condition: f.condition,
			Default:   f.def,
		})
	}

	problems := append([]string(nil), p.errs...)
	errs, _ := def.Check()
	problems = append(problems, errs...)
	if len(problems) > 0 {
		return nil, &domain.ValidationError{DefinitionID: p.id, Problems: problems}
	}
	return def, nil
}
