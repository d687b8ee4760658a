package domain

import (
	"fmt"
	"sort"
)

// NodeKind identifies the behavior of a vertex in the process graph.
type NodeKind string

const (
	KindStartEvent        NodeKind = "start_event"
	KindEndEvent          NodeKind = "end_event"
	KindIntermediateEvent NodeKind = "intermediate_event"
	KindUserTask          NodeKind = "user_task"
	KindServiceTask       NodeKind = "service_task"
	KindExclusiveGateway  NodeKind = "exclusive_gateway"
	KindParallelGateway   NodeKind = "parallel_gateway"
)

// FormField describes one input a human is expected to supply when
// completing a user task.
type FormField struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// Node is a typed vertex in the process graph. Incoming and Outgoing hold
// edge ids in declaration order; declaration order matters for exclusive
// gateways, which evaluate conditions first-match-wins.
type Node struct {
	ID   string
	Name string
	Kind NodeKind

	Incoming []string
	Outgoing []string

	// Routing metadata for task nodes.
	Assignee        string
	CandidateGroups []string
	CandidateUsers  []string
	FormKey         string

	// FormFields describe the expected completion payload of a user task.
	FormFields []FormField

	// Handler names the registered service callable for service tasks.
	Handler string

	// Properties is a free-form bag for attributes the engine does not
	// interpret, such as the duration hint on intermediate events.
	Properties map[string]any
}

// Property returns a value from the node's property bag.
func (n *Node) Property(key string) (any, bool) {
	v, ok := n.Properties[key]
	return v, ok
}

// SetProperty stores a value in the node's property bag.
func (n *Node) SetProperty(key string, value any) {
	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	n.Properties[key] = value
}

// AddFormField appends a form field description to a user task node.
func (n *Node) AddFormField(id, fieldType, label string, required bool) {
	n.FormFields = append(n.FormFields, FormField{
		ID:       id,
		Type:     fieldType,
		Label:    label,
		Required: required,
	})
}

// Edge is a directed sequence flow between two nodes of the same
// definition. Condition, when non-empty, guards the edge for exclusive
// gateway routing. Default marks the edge taken when no condition holds.
type Edge struct {
	ID        string
	Name      string
	SourceID  string
	TargetID  string
	Condition string
	Default   bool
}

// ProcessDefinition is the immutable deployed graph template. It is built
// once by the deployment layer via AddNode/AddEdge and must not be
// mutated after Deploy; the engine only ever reads it.
type ProcessDefinition struct {
	ID      string
	Name    string
	Version int

	nodes       map[string]*Node
	edges       map[string]*Edge
	startEvents []string
	endEvents   []string
}

// NewProcessDefinition creates an empty definition with the given id.
func NewProcessDefinition(id, name string) *ProcessDefinition {
	return &ProcessDefinition{
		ID:    id,
		Name:  name,
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// AddNode registers a node. Start and end events are additionally tracked
// in declaration order for instance seeding and validation.
func (d *ProcessDefinition) AddNode(n *Node) {
	d.nodes[n.ID] = n
	switch n.Kind {
	case KindStartEvent:
		d.startEvents = append(d.startEvents, n.ID)
	case KindEndEvent:
		d.endEvents = append(d.endEvents, n.ID)
	}
}

// AddEdge registers a sequence flow and links it to its endpoints,
// preserving declaration order on both sides. Endpoints that are not part
// of the definition are reported by Validate rather than rejected here.
func (d *ProcessDefinition) AddEdge(e *Edge) {
	d.edges[e.ID] = e
	if src, ok := d.nodes[e.SourceID]; ok {
		src.Outgoing = append(src.Outgoing, e.ID)
	}
	if dst, ok := d.nodes[e.TargetID]; ok {
		dst.Incoming = append(dst.Incoming, e.ID)
	}
}

// Node returns the node with the given id.
func (d *ProcessDefinition) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Edge returns the edge with the given id.
func (d *ProcessDefinition) Edge(id string) (*Edge, bool) {
	e, ok := d.edges[id]
	return e, ok
}

// Nodes returns all nodes in id order.
func (d *ProcessDefinition) Nodes() []*Node {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = d.nodes[id]
	}
	return out
}

// Outgoing resolves a node's outgoing edges in declaration order.
func (d *ProcessDefinition) Outgoing(nodeID string) []*Edge {
	n, ok := d.nodes[nodeID]
	if !ok {
		return nil
	}
	out := make([]*Edge, 0, len(n.Outgoing))
	for _, eid := range n.Outgoing {
		if e, ok := d.edges[eid]; ok {
			out = append(out, e)
		}
	}
	return out
}

// StartEvents returns the ids of all start events in declaration order.
func (d *ProcessDefinition) StartEvents() []string {
	return append([]string(nil), d.startEvents...)
}

// EndEvents returns the ids of all end events in declaration order.
func (d *ProcessDefinition) EndEvents() []string {
	return append([]string(nil), d.endEvents...)
}

// Validate reports every problem found in the definition as a flat list,
// fatal and advisory findings alike. An empty result means deployable.
func (d *ProcessDefinition) Validate() []string {
	errs, warnings := d.Check()
	return append(errs, warnings...)
}

// Check splits validation findings into fatal errors and advisory
// warnings. A definition without a start event cannot run and is an
// error; unreachable nodes are advisory by policy, the engine logs them
// at deploy time and proceeds.
func (d *ProcessDefinition) Check() (errs, warnings []string) {
	if len(d.startEvents) == 0 {
		errs = append(errs, "definition needs at least one start event")
	}
	if len(d.endEvents) == 0 {
		errs = append(errs, "definition needs at least one end event")
	}

	for _, id := range sortedEdgeIDs(d.edges) {
		e := d.edges[id]
		if _, ok := d.nodes[e.SourceID]; !ok {
			errs = append(errs, fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.SourceID))
		}
		if _, ok := d.nodes[e.TargetID]; !ok {
			errs = append(errs, fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.TargetID))
		}
	}

	for _, id := range d.UnreachableNodes() {
		warnings = append(warnings, fmt.Sprintf("node %q is not reachable from any start event", id))
	}
	return errs, warnings
}

// UnreachableNodes returns the ids of nodes that no walk from a start
// event can reach, in id order.
func (d *ProcessDefinition) UnreachableNodes() []string {
	reachable := make(map[string]bool, len(d.nodes))
	queue := append([]string(nil), d.startEvents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		for _, e := range d.Outgoing(id) {
			if !reachable[e.TargetID] {
				queue = append(queue, e.TargetID)
			}
		}
	}

	var unreachable []string
	for id := range d.nodes {
		if !reachable[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	return unreachable
}

func sortedEdgeIDs(edges map[string]*Edge) []string {
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
