package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sluice/pkg/adapters/memory"
	"github.com/aretw0/sluice/pkg/domain"
)

func TestRecover_RestoresParkedWork(t *testing.T) {
	store := memory.NewStore()

	first := New(Config{Store: store})
	if err := first.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	id := mustStart(t, first, "approval", map[string]any{"amount": 99})

	// A second engine over the same store stands in for a restart.
	second := New(Config{Store: store})
	if err := second.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	if err := second.Recover(context.Background()); err != nil {
		t.Fatalf("Recover returned error: %v", err)
	}

	inst := mustInstance(t, second, id)
	if inst.Status != domain.InstanceActive {
		t.Fatalf("recovered status = %s, want ACTIVE", inst.Status)
	}
	if inst.Variables["amount"] != 99 {
		t.Errorf("recovered variables = %v", inst.Variables)
	}
	tasks := second.ActiveTasks()
	if len(tasks) != 1 || tasks[0].NodeID != "review" {
		t.Fatalf("recovered tasks = %+v, want the parked review task", tasks)
	}

	// Recovered work is fully operable.
	ok, err := second.CompleteTask(context.Background(), tasks[0].ID, map[string]any{"approved": true})
	if err != nil || !ok {
		t.Fatalf("completing recovered task: ok=%v err=%v", ok, err)
	}
	if inst := mustInstance(t, second, id); inst.Status != domain.InstanceCompleted {
		t.Errorf("recovered instance did not finish: %s", inst.Status)
	}

	stored, err := store.LoadActiveInstances(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("store still lists %d active instances after completion", len(stored))
	}
}

func TestRecover_SkipsInstancesWithoutDefinition(t *testing.T) {
	store := memory.NewStore()

	first := New(Config{Store: store})
	if err := first.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, first, "approval", nil)

	second := New(Config{Store: store})
	if err := second.Recover(context.Background()); err != nil {
		t.Fatalf("Recover must not fail on skippable rows: %v", err)
	}
	if got := second.ActiveInstances(); len(got) != 0 {
		t.Errorf("instance without a deployed definition was attached: %+v", got)
	}
	if got := second.ActiveTasks(); len(got) != 0 {
		t.Errorf("orphaned task was attached: %+v", got)
	}
}

func TestRecover_DropsTokensAtRemovedNodes(t *testing.T) {
	store := memory.NewStore()

	first := New(Config{Store: store})
	if err := first.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, first, "approval", nil)

	// Same definition id, but the review node is gone.
	slimmed := domain.NewProcessDefinition("approval", "Approval flow v2")
	slimmed.AddNode(&domain.Node{ID: "start", Kind: domain.KindStartEvent})
	slimmed.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})
	slimmed.AddEdge(&domain.Edge{ID: "f1", SourceID: "start", TargetID: "end"})

	second := New(Config{Store: store})
	if err := second.Deploy(slimmed); err != nil {
		t.Fatal(err)
	}
	if err := second.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The only token pointed at the removed node, so the whole instance
	// is skipped rather than resurrected in an unrunnable shape.
	if got := second.ActiveInstances(); len(got) != 0 {
		t.Errorf("instance with no usable tokens was attached: %+v", got)
	}
}

func TestRecover_RebuildsTokenAndTaskBinding(t *testing.T) {
	def := domain.NewProcessDefinition("dual", "Dual review")
	def.AddNode(&domain.Node{ID: "start", Kind: domain.KindStartEvent})
	def.AddNode(&domain.Node{ID: "split", Kind: domain.KindParallelGateway})
	review := &domain.Node{ID: "review", Kind: domain.KindUserTask, Assignee: "alice"}
	def.AddNode(review)
	def.AddNode(&domain.Node{ID: "audit", Kind: domain.KindUserTask, Assignee: "bob"})
	def.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})
	def.AddEdge(&domain.Edge{ID: "f1", SourceID: "start", TargetID: "split"})
	def.AddEdge(&domain.Edge{ID: "f2", SourceID: "split", TargetID: "review"})
	def.AddEdge(&domain.Edge{ID: "f3", SourceID: "split", TargetID: "audit"})
	def.AddEdge(&domain.Edge{ID: "f4", SourceID: "review", TargetID: "end"})
	def.AddEdge(&domain.Edge{ID: "f5", SourceID: "audit", TargetID: "end"})

	// The state a crash between persisting the parked instance and the
	// second task row leaves behind: two live tokens, one task row.
	store := memory.NewStore()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	inst := domain.NewProcessInstance("dual", "case-9", map[string]any{"amount": 12}, now)
	tokReview := domain.NewToken(inst.ID, "review", inst.Variables, now)
	tokAudit := domain.NewToken(inst.ID, "audit", inst.Variables, now)
	inst.AddToken(tokReview)
	inst.AddToken(tokAudit)
	task := domain.NewTaskInstance(review, tokReview, now)

	ctx := context.Background()
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	e := New(Config{Store: store})
	if err := e.Deploy(def); err != nil {
		t.Fatal(err)
	}
	if err := e.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	got := mustInstance(t, e, inst.ID)
	if got.Status != domain.InstanceActive {
		t.Fatalf("status = %s, want ACTIVE", got.Status)
	}
	positions := map[string]string{}
	for _, tok := range got.ActiveTokens() {
		positions[tok.ID] = tok.CurrentNodeID
	}
	if len(positions) != 2 || positions[tokReview.ID] != "review" || positions[tokAudit.ID] != "audit" {
		t.Fatalf("token positions = %v", positions)
	}

	tasks := e.ActiveTasks()
	if len(tasks) != 1 {
		t.Fatalf("recovered tasks = %d, want 1", len(tasks))
	}
	if tasks[0].ID != task.ID || tasks[0].TokenID != tokReview.ID || tasks[0].NodeID != "review" {
		t.Errorf("task/token binding lost: %+v", tasks[0])
	}
}

func TestRecover_OnlyActiveRowsComeBack(t *testing.T) {
	store := memory.NewStore()

	first := New(Config{Store: store})
	if err := first.Deploy(serviceDefinition("payments")); err != nil {
		t.Fatal(err)
	}
	if err := first.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, first, "payments", nil) // runs to completion
	parked := mustStart(t, first, "approval", nil)

	second := New(Config{Store: store})
	if err := second.Deploy(serviceDefinition("payments")); err != nil {
		t.Fatal(err)
	}
	if err := second.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	if err := second.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := second.ActiveInstances()
	if len(got) != 1 || got[0].ID != parked {
		t.Errorf("recovered instances = %+v, want only the parked one", got)
	}
}
