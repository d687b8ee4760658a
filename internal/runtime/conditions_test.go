package runtime

import (
	"context"
	"testing"
)

func TestEvaluateCondition(t *testing.T) {
	vars := map[string]any{
		"approved": true,
		"rejected": false,
		"amount":   250,
		"ratio":    0.5,
		"count":    0,
		"status":   "shipped",
		"name":     "",
		"ref":      nil,
		"items":    []any{"a"},
		"empty":    map[string]any{},
	}

	cases := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{"bare truthy bool", "approved", true, false},
		{"bare falsy bool", "rejected", false, false},
		{"bare nonzero number", "amount", true, false},
		{"bare zero number", "count", false, false},
		{"bare empty string", "name", false, false},
		{"bare nil", "ref", false, false},
		{"bare non-empty slice", "items", true, false},
		{"bare empty map", "empty", false, false},
		{"unknown variable errors", "ghost", false, true},
		{"bang negation", "!rejected", true, false},
		{"word negation", "not approved", false, false},
		{"numeric greater", "amount > 100", true, false},
		{"numeric greater false", "amount > 1000", false, false},
		{"numeric less-equal", "amount <= 250", true, false},
		{"int against float literal", "amount >= 249.5", true, false},
		{"float variable", "ratio < 1", true, false},
		{"literal on the left", "100 < amount", true, false},
		{"string eq double quotes", `status == "shipped"`, true, false},
		{"string eq single quotes", "status == 'shipped'", true, false},
		{"string neq", `status != "returned"`, true, false},
		{"string ordering", "status > 'a'", true, false},
		{"bool literal compare", "approved == true", true, false},
		{"bool literal mismatch", "rejected == true", false, false},
		{"nil literal compare", "ref == nil", true, false},
		{"quoted operator stays literal", `status == '>='`, false, false},
		{"negated comparison", "!amount > 100", false, false},
		{"empty condition", "", false, false},
		{"dangling operator errors", "amount >", false, true},
		{"unorderable types error", "approved > 1", false, true},
		{"garbage errors", "amount >* 2", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateCondition(context.Background(), tc.expr, vars)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("EvaluateCondition(%q) expected an error, got %v", tc.expr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("EvaluateCondition(%q) returned error: %v", tc.expr, err)
			}
			if got != tc.want {
				t.Errorf("EvaluateCondition(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluateCondition_NumericCoercion(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]any
	}{
		{"int", map[string]any{"n": 5}},
		{"int64", map[string]any{"n": int64(5)}},
		{"float64", map[string]any{"n": 5.0}},
		{"float32", map[string]any{"n": float32(5)}},
		{"uint", map[string]any{"n": uint(5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := EvaluateCondition(context.Background(), "n == 5", tc.vars)
			if err != nil || !ok {
				t.Errorf("n == 5 with %T: got %v, %v", tc.vars["n"], ok, err)
			}
		})
	}
}
