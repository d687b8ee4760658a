package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/sluice/pkg/adapters/memory"
	"github.com/aretw0/sluice/pkg/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{Store: memory.NewStore()})
}

// start -> charge (service) -> end
func serviceDefinition(id string) *domain.ProcessDefinition {
	def := domain.NewProcessDefinition(id, "Service flow")
	def.AddNode(&domain.Node{ID: "start", Kind: domain.KindStartEvent})
	def.AddNode(&domain.Node{ID: "charge", Kind: domain.KindServiceTask, Handler: "charge"})
	def.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})
	def.AddEdge(&domain.Edge{ID: "f1", SourceID: "start", TargetID: "charge"})
	def.AddEdge(&domain.Edge{ID: "f2", SourceID: "charge", TargetID: "end"})
	return def
}

// start -> review (user task assigned to alice) -> end
func approvalDefinition(id string) *domain.ProcessDefinition {
	def := domain.NewProcessDefinition(id, "Approval flow")
	def.AddNode(&domain.Node{ID: "start", Kind: domain.KindStartEvent})
	review := &domain.Node{ID: "review", Kind: domain.KindUserTask, Assignee: "alice"}
	review.AddFormField("approved", "boolean", "Approve the request?", true)
	def.AddNode(review)
	def.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})
	def.AddEdge(&domain.Edge{ID: "f1", SourceID: "start", TargetID: "review"})
	def.AddEdge(&domain.Edge{ID: "f2", SourceID: "review", TargetID: "end"})
	return def
}

func mustStart(t *testing.T, e *Engine, defID string, vars map[string]any) string {
	t.Helper()
	id, err := e.Start(context.Background(), defID, vars, "")
	if err != nil {
		t.Fatalf("Start(%s) returned error: %v", defID, err)
	}
	return id
}

func mustInstance(t *testing.T, e *Engine, id string) *domain.ProcessInstance {
	t.Helper()
	inst, ok := e.Instance(id)
	if !ok {
		t.Fatalf("instance %s not found", id)
	}
	return inst
}

func TestDeploy_RejectsStructuralProblems(t *testing.T) {
	e := newTestEngine(t)

	def := domain.NewProcessDefinition("broken", "Broken")
	def.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})

	err := e.Deploy(def)
	if err == nil {
		t.Fatal("expected deploy to fail for a definition without a start event")
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a ValidationError, got %T: %v", err, err)
	}
	if verr.DefinitionID != "broken" || len(verr.Problems) == 0 {
		t.Errorf("validation error lacks detail: %+v", verr)
	}
	if _, ok := e.Definition("broken"); ok {
		t.Error("rejected definition must not be deployed")
	}
}

func TestDeploy_UnreachableNodeIsAdvisory(t *testing.T) {
	e := newTestEngine(t)
	def := serviceDefinition("with-island")
	def.AddNode(&domain.Node{ID: "island", Kind: domain.KindUserTask})

	if err := e.Deploy(def); err != nil {
		t.Fatalf("deploy must proceed past unreachable nodes, got %v", err)
	}
	if _, ok := e.Definition("with-island"); !ok {
		t.Error("definition should be deployed despite the advisory finding")
	}
}

func TestDeploy_ReplacesExistingDefinition(t *testing.T) {
	e := newTestEngine(t)
	first := serviceDefinition("dupe")
	if err := e.Deploy(first); err != nil {
		t.Fatal(err)
	}
	second := approvalDefinition("dupe")
	if err := e.Deploy(second); err != nil {
		t.Fatal(err)
	}

	got, ok := e.Definition("dupe")
	if !ok || got.Name != "Approval flow" {
		t.Errorf("expected the replacement to win, got %+v", got)
	}
	if e.Status().DeployedProcessCount != 1 {
		t.Errorf("re-deploy must not grow the definition count, got %d", e.Status().DeployedProcessCount)
	}
}

func TestStart_UnknownDefinition(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Start(context.Background(), "ghost", nil, "")
	if !errors.Is(err, domain.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
}

func TestStart_RunsServiceProcessToCompletion(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(serviceDefinition("payments")); err != nil {
		t.Fatal(err)
	}
	e.Registry().Register("charge", func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
		return map[string]any{"charged": true}, nil
	})

	id := mustStart(t, e, "payments", map[string]any{"amount": 42})

	inst := mustInstance(t, e, id)
	if inst.Status != domain.InstanceCompleted {
		t.Fatalf("instance status = %s, want COMPLETED", inst.Status)
	}
	if inst.EndTime == nil {
		t.Error("completed instance must carry an end time")
	}
	if got := inst.Variables["charged"]; got != true {
		t.Errorf("handler result not folded into instance variables: %v", inst.Variables)
	}
	if got := inst.Variables["amount"]; got != 42 {
		t.Errorf("initial variable lost: %v", inst.Variables)
	}
	for _, tok := range inst.Tokens {
		if tok.Active {
			t.Errorf("token %s still active on a completed instance", tok.ID)
		}
	}

	stored, err := e.store.LoadActiveInstances(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("completed instance still listed as active in the store: %d", len(stored))
	}
}

func TestStart_CopiesCallerVariables(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}

	vars := map[string]any{"amount": 10}
	id := mustStart(t, e, "approval", vars)
	vars["amount"] = 999

	inst := mustInstance(t, e, id)
	if inst.Variables["amount"] != 10 {
		t.Errorf("instance variables alias the caller's map: %v", inst.Variables)
	}
}

func TestStart_PublishesLifecycleEvents(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(serviceDefinition("events")); err != nil {
		t.Fatal(err)
	}

	var seen []string
	e.Bus().OnInstanceStarted(func(inst *domain.ProcessInstance) {
		seen = append(seen, "started:"+string(inst.Status))
	})
	e.Bus().OnInstanceCompleted(func(inst *domain.ProcessInstance) {
		seen = append(seen, "completed:"+string(inst.Status))
	})

	mustStart(t, e, "events", nil)

	want := []string{"started:ACTIVE", "completed:COMPLETED"}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCancelInstance(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	id := mustStart(t, e, "approval", nil)

	if err := e.CancelInstance(context.Background(), id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	inst := mustInstance(t, e, id)
	if inst.Status != domain.InstanceCancelled {
		t.Fatalf("status = %s, want CANCELLED", inst.Status)
	}
	if len(inst.ActiveTokens()) != 0 {
		t.Error("cancelled instance still has active tokens")
	}
	if got := e.ActiveTasks(); len(got) != 0 {
		t.Errorf("open tasks must be cancelled with the instance, got %d", len(got))
	}

	// Cancelling again is a no-op, unknown ids are an error.
	if err := e.CancelInstance(context.Background(), id); err != nil {
		t.Errorf("second cancel should be a no-op, got %v", err)
	}
	if err := e.CancelInstance(context.Background(), "ghost"); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestCancelInstance_PublishesTerminalEvent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	id := mustStart(t, e, "approval", nil)

	var status domain.InstanceStatus
	e.Bus().OnInstanceCompleted(func(inst *domain.ProcessInstance) {
		status = inst.Status
	})
	if err := e.CancelInstance(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if status != domain.InstanceCancelled {
		t.Errorf("terminal callback saw status %q, want CANCELLED", status)
	}
}

func TestStatus_Counts(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	if err := e.Deploy(serviceDefinition("payments")); err != nil {
		t.Fatal(err)
	}
	mustStart(t, e, "approval", nil)

	st := e.Status()
	if !st.Running {
		t.Error("engine should report running")
	}
	if st.DeployedProcessCount != 2 {
		t.Errorf("DeployedProcessCount = %d, want 2", st.DeployedProcessCount)
	}
	if st.ActiveInstanceCount != 1 {
		t.Errorf("ActiveInstanceCount = %d, want 1", st.ActiveInstanceCount)
	}
	if st.ActiveTaskCount != 1 {
		t.Errorf("ActiveTaskCount = %d, want 1", st.ActiveTaskCount)
	}
	if len(st.DefinitionIDs) != 2 || st.DefinitionIDs[0] != "approval" || st.DefinitionIDs[1] != "payments" {
		t.Errorf("DefinitionIDs = %v, want sorted [approval payments]", st.DefinitionIDs)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if e.Status().Running {
		t.Error("closed engine still reports running")
	}
}

func TestReads_ReturnIndependentCopies(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Deploy(approvalDefinition("approval")); err != nil {
		t.Fatal(err)
	}
	id := mustStart(t, e, "approval", map[string]any{"amount": 5})

	inst := mustInstance(t, e, id)
	inst.Variables["amount"] = 12345
	inst.Status = domain.InstanceFailed

	again := mustInstance(t, e, id)
	if again.Variables["amount"] != 5 || again.Status != domain.InstanceActive {
		t.Errorf("engine state leaked through a read copy: %+v", again)
	}

	task := e.ActiveTasks()[0]
	task.Assignee = "mallory"
	if e.ActiveTasks()[0].Assignee != "alice" {
		t.Error("task state leaked through a read copy")
	}
}

func TestDeploy_NilDefinition(t *testing.T) {
	e := newTestEngine(t)
	err := e.Deploy(nil)
	if err == nil {
		t.Fatal("expected an error for a nil definition")
	}
	if !strings.Contains(err.Error(), "no id") {
		t.Errorf("unexpected error text: %v", err)
	}
}

// The canonical review flow: a human decision routes the instance
// through an exclusive gateway to either an automated accept step or a
// second human task for the rejection reason.
func TestReviewDecision_EndToEnd(t *testing.T) {
	def := domain.NewProcessDefinition("decision", "Review Decision")
	def.AddNode(&domain.Node{ID: "start", Kind: domain.KindStartEvent})
	def.AddNode(&domain.Node{ID: "review", Kind: domain.KindUserTask, Assignee: "alice"})
	def.AddNode(&domain.Node{ID: "gate", Kind: domain.KindExclusiveGateway})
	def.AddNode(&domain.Node{ID: "accept", Kind: domain.KindServiceTask, Handler: "accept"})
	def.AddNode(&domain.Node{ID: "reject-reason", Kind: domain.KindUserTask, Assignee: "alice"})
	def.AddNode(&domain.Node{ID: "end", Kind: domain.KindEndEvent})
	def.AddEdge(&domain.Edge{ID: "f1", SourceID: "start", TargetID: "review"})
	def.AddEdge(&domain.Edge{ID: "f2", SourceID: "review", TargetID: "gate"})
	def.AddEdge(&domain.Edge{ID: "f3", SourceID: "gate", TargetID: "accept", Condition: "approved"})
	def.AddEdge(&domain.Edge{ID: "f4", SourceID: "gate", TargetID: "reject-reason", Default: true})
	def.AddEdge(&domain.Edge{ID: "f5", SourceID: "accept", TargetID: "end"})
	def.AddEdge(&domain.Edge{ID: "f6", SourceID: "reject-reason", TargetID: "end"})

	newEngine := func(t *testing.T) *Engine {
		t.Helper()
		e := newTestEngine(t)
		e.Registry().Register("accept", func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
			return map[string]any{"archived": true}, nil
		})
		if err := e.Deploy(def); err != nil {
			t.Fatal(err)
		}
		return e
	}

	t.Run("approval routes through the service task", func(t *testing.T) {
		e := newEngine(t)
		id := mustStart(t, e, "decision", nil)

		tasks := e.ActiveTasks()
		if len(tasks) != 1 || tasks[0].NodeID != "review" {
			t.Fatalf("expected one open review task, got %+v", tasks)
		}
		if ok, err := e.CompleteTask(context.Background(), tasks[0].ID, map[string]any{"approved": true}); !ok || err != nil {
			t.Fatalf("CompleteTask: ok=%v err=%v", ok, err)
		}

		inst := mustInstance(t, e, id)
		if inst.Status != domain.InstanceCompleted {
			t.Fatalf("status = %s, want COMPLETED", inst.Status)
		}
		if inst.Variables["archived"] != true {
			t.Errorf("accept handler variables missing from the instance: %v", inst.Variables)
		}
	})

	t.Run("rejection parks at the reason task", func(t *testing.T) {
		e := newEngine(t)
		id := mustStart(t, e, "decision", nil)

		task := e.ActiveTasks()[0]
		if ok, err := e.CompleteTask(context.Background(), task.ID, map[string]any{"approved": false}); !ok || err != nil {
			t.Fatalf("CompleteTask: ok=%v err=%v", ok, err)
		}

		inst := mustInstance(t, e, id)
		if inst.Status != domain.InstanceActive {
			t.Fatalf("status = %s, want ACTIVE while the reason is pending", inst.Status)
		}
		open := e.ActiveTasks()
		if len(open) != 1 || open[0].NodeID != "reject-reason" {
			t.Fatalf("expected the reject-reason task, got %+v", open)
		}
	})
}
