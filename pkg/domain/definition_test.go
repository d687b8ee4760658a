package domain

import (
	"strings"
	"testing"
)

func linearDefinition() *ProcessDefinition {
	def := NewProcessDefinition("linear", "Linear")
	def.AddNode(&Node{ID: "start", Kind: KindStartEvent})
	def.AddNode(&Node{ID: "work", Kind: KindServiceTask, Handler: "noop"})
	def.AddNode(&Node{ID: "end", Kind: KindEndEvent})
	def.AddEdge(&Edge{ID: "f1", SourceID: "start", TargetID: "work"})
	def.AddEdge(&Edge{ID: "f2", SourceID: "work", TargetID: "end"})
	return def
}

func TestValidate_MissingStartEvent(t *testing.T) {
	def := NewProcessDefinition("broken", "Broken")
	def.AddNode(&Node{ID: "end", Kind: KindEndEvent})

	problems := def.Validate()
	if len(problems) == 0 {
		t.Fatal("expected at least one problem for a definition without a start event")
	}

	found := false
	for _, p := range problems {
		if strings.Contains(p, "start event") {
			found = true
		}
	}
	if !found {
		t.Errorf("problems %v do not mention the missing start event", problems)
	}
}

func TestValidate_CleanDefinition(t *testing.T) {
	if problems := linearDefinition().Validate(); len(problems) != 0 {
		t.Fatalf("expected no problems, got %v", problems)
	}
}

func TestValidate_EdgeWithUnknownEndpoint(t *testing.T) {
	def := linearDefinition()
	def.AddEdge(&Edge{ID: "dangling", SourceID: "work", TargetID: "ghost"})

	errs, _ := def.Check()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one fatal finding, got %v", errs)
	}
	if !strings.Contains(errs[0], "ghost") {
		t.Errorf("finding %q does not name the unknown node", errs[0])
	}
}

func TestCheck_UnreachableNodeIsAdvisory(t *testing.T) {
	def := linearDefinition()
	def.AddNode(&Node{ID: "island", Kind: KindUserTask})

	errs, warnings := def.Check()
	if len(errs) != 0 {
		t.Fatalf("unreachable node must not be fatal, got errors %v", errs)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "island") {
		t.Fatalf("expected one warning naming the island, got %v", warnings)
	}

	if ids := def.UnreachableNodes(); len(ids) != 1 || ids[0] != "island" {
		t.Errorf("UnreachableNodes() = %v, want [island]", ids)
	}
}

func TestOutgoing_PreservesDeclarationOrder(t *testing.T) {
	def := NewProcessDefinition("fanout", "Fanout")
	def.AddNode(&Node{ID: "start", Kind: KindStartEvent})
	def.AddNode(&Node{ID: "split", Kind: KindParallelGateway})
	for _, id := range []string{"a", "b", "c"} {
		def.AddNode(&Node{ID: id, Kind: KindEndEvent})
	}
	def.AddEdge(&Edge{ID: "in", SourceID: "start", TargetID: "split"})
	def.AddEdge(&Edge{ID: "to-b", SourceID: "split", TargetID: "b"})
	def.AddEdge(&Edge{ID: "to-a", SourceID: "split", TargetID: "a"})
	def.AddEdge(&Edge{ID: "to-c", SourceID: "split", TargetID: "c"})

	targets := []string{}
	for _, e := range def.Outgoing("split") {
		targets = append(targets, e.TargetID)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("outgoing order = %v, want %v", targets, want)
		}
	}
}

func TestNode_PropertyBag(t *testing.T) {
	n := &Node{ID: "wait", Kind: KindIntermediateEvent}
	n.SetProperty("duration", "PT5M")

	v, ok := n.Property("duration")
	if !ok || v != "PT5M" {
		t.Fatalf("Property(duration) = %v, %v", v, ok)
	}
	if _, ok := n.Property("missing"); ok {
		t.Error("unexpected value for missing property")
	}
}
