package domain

import (
	"testing"
)

func TestExecutionContext_SharesUnderlyingSnapshot(t *testing.T) {
	vars := map[string]any{"count": 1}
	ec := NewExecutionContext("inst-1", nil, vars, testTime)

	ec.SetVariable("count", 2)
	ec.SetVariable("status", "shipped")

	if vars["count"] != 2 || vars["status"] != "shipped" {
		t.Fatalf("writes not visible on the underlying map: %v", vars)
	}

	// Variables() is a copy; mutating it must not leak back.
	snapshot := ec.Variables()
	snapshot["count"] = 99
	if vars["count"] != 2 {
		t.Error("Variables() returned an aliased map")
	}
}

func TestExecutionContext_Bind(t *testing.T) {
	type order struct {
		Amount   int    `mapstructure:"amount"`
		Customer string `mapstructure:"customer"`
	}

	ec := NewExecutionContext("inst-1", nil, map[string]any{
		"amount":   250,
		"customer": "acme",
		"ignored":  []any{"extra"},
	}, testTime)

	var o order
	if err := ec.Bind(&o); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if o.Amount != 250 || o.Customer != "acme" {
		t.Errorf("decoded %+v", o)
	}
}

func TestExecutionContext_Errors(t *testing.T) {
	ec := NewExecutionContext("inst-1", nil, nil, testTime)
	if ec.HasErrors() {
		t.Fatal("fresh context reports errors")
	}

	ec.AddError("inventory lookup degraded")
	if !ec.HasErrors() || len(ec.Errors()) != 1 {
		t.Fatalf("errors = %v", ec.Errors())
	}
}
