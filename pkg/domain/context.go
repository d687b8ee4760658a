package domain

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ExecutionContext is the scoped variable view handed to service
// handlers. It wraps the executing token's variable snapshot directly, so
// SetVariable is visible to the token once the handler returns.
type ExecutionContext struct {
	InstanceID string
	Definition *ProcessDefinition

	variables map[string]any
	errors    []string
	createdAt time.Time
}

// NewExecutionContext builds a context over the given variable map. The
// map is shared, not copied; that is the point of the context.
func NewExecutionContext(instanceID string, def *ProcessDefinition, variables map[string]any, now time.Time) *ExecutionContext {
	if variables == nil {
		variables = make(map[string]any)
	}
	return &ExecutionContext{
		InstanceID: instanceID,
		Definition: def,
		variables:  variables,
		createdAt:  now,
	}
}

// Variable returns the named variable and whether it is set.
func (c *ExecutionContext) Variable(name string) (any, bool) {
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable writes a variable into the underlying snapshot.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.variables[name] = value
}

// Variables returns a copy of the full variable map.
func (c *ExecutionContext) Variables() map[string]any {
	return CloneVariables(c.variables)
}

// Bind decodes the variable map into a caller-owned struct using
// mapstructure tags, giving handlers typed access without manual
// assertions.
func (c *ExecutionContext) Bind(target any) error {
	if err := mapstructure.Decode(c.variables, target); err != nil {
		return fmt.Errorf("bind variables: %w", err)
	}
	return nil
}

// AddError records a non-fatal finding a handler wants surfaced.
func (c *ExecutionContext) AddError(msg string) {
	c.errors = append(c.errors, msg)
}

// Errors returns the findings recorded so far.
func (c *ExecutionContext) Errors() []string {
	return append([]string(nil), c.errors...)
}

// HasErrors reports whether any finding was recorded.
func (c *ExecutionContext) HasErrors() bool {
	return len(c.errors) > 0
}

// CreatedAt returns the context creation time.
func (c *ExecutionContext) CreatedAt() time.Time {
	return c.createdAt
}
