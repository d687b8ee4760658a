package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// ConditionEvaluator decides whether a sequence flow condition holds for
// the given variable snapshot. Gateways treat an error as "condition not
// met", so implementations should return errors for expressions they do
// not understand rather than guessing.
type ConditionEvaluator func(ctx context.Context, condition string, variables map[string]any) (bool, error)

// EvaluateCondition is the default evaluator. It understands the small
// expression dialect gateway conditions are written in:
//
//	approved                   truthiness of a variable
//	!approved, not approved    negated truthiness
//	amount > 1000              ordered comparison against a literal
//	status == "shipped"        ==, !=, >, >=, <, <=
//
// Either side of a comparison may be a variable name or a literal:
// a quoted string, a number, true/false or nil. Numbers compare
// numerically across int and float flavors, strings lexically. Anything
// else is an error.
func EvaluateCondition(ctx context.Context, condition string, variables map[string]any) (bool, error) {
	expr := strings.TrimSpace(condition)
	if expr == "" {
		return false, nil
	}

	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		v, err := EvaluateCondition(ctx, rest, variables)
		return !v, err
	}
	if rest, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(rest, "=") {
		v, err := EvaluateCondition(ctx, rest, variables)
		return !v, err
	}

	if lhs, op, rhs, ok := splitComparison(expr); ok {
		left, err := resolveOperand(lhs, variables)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(rhs, variables)
		if err != nil {
			return false, err
		}
		return compare(left, op, right)
	}

	val, err := resolveOperand(expr, variables)
	if err != nil {
		return false, err
	}
	return truthy(val), nil
}

// Longest operators first so ">=" wins over ">".
var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// splitComparison finds the first comparison operator outside quotes.
func splitComparison(expr string) (lhs, op, rhs string, ok bool) {
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		default:
			for _, cand := range comparisonOps {
				if strings.HasPrefix(expr[i:], cand) {
					lhs = strings.TrimSpace(expr[:i])
					rhs = strings.TrimSpace(expr[i+len(cand):])
					if lhs == "" || rhs == "" {
						return "", "", "", false
					}
					return lhs, cand, rhs, true
				}
			}
		}
	}
	return "", "", "", false
}

// resolveOperand turns a term into a value: a literal stands for itself,
// an identifier is looked up in the variables. Unknown variables are an
// error, which the gateway downgrades to "not met".
func resolveOperand(term string, variables map[string]any) (any, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("empty operand")
	}
	if len(term) >= 2 {
		first, last := term[0], term[len(term)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return term[1 : len(term)-1], nil
		}
	}
	switch term {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "nil", "null", "None":
		return nil, nil
	}
	if n, err := strconv.ParseFloat(term, 64); err == nil {
		return n, nil
	}
	if !isIdentifier(term) {
		return nil, fmt.Errorf("unsupported operand %q", term)
	}
	val, ok := variables[term]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", term)
	}
	return val, nil
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return s != ""
}

func compare(left any, op string, right any) (bool, error) {
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			switch op {
			case "==":
				return lf == rf, nil
			case "!=":
				return lf != rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			}
		}
	}
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			switch op {
			case "==":
				return ls == rs, nil
			case "!=":
				return ls != rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			}
		}
	}
	switch op {
	case "==":
		return reflect.DeepEqual(left, right), nil
	case "!=":
		return !reflect.DeepEqual(left, right), nil
	}
	return false, fmt.Errorf("cannot order %T and %T", left, right)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// truthy mirrors the loose truthiness variables historically carried:
// zero numbers, empty strings and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
