package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinitionNotFound is returned when a definition id is not deployed.
var ErrDefinitionNotFound = errors.New("process definition not found")

// ErrInstanceNotFound is returned when an instance id is unknown.
var ErrInstanceNotFound = errors.New("process instance not found")

// ValidationError rejects a deploy. It carries every problem found so the
// caller can fix them in one pass.
type ValidationError struct {
	DefinitionID string
	Problems     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("definition %q invalid: %s", e.DefinitionID, strings.Join(e.Problems, "; "))
}

// HandlerError wraps a service handler failure with the node it happened
// on. Handler failures are never retried; they fail the instance and the
// wrapped message becomes its failure reason.
type HandlerError struct {
	NodeID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("service task %q failed: %v", e.NodeID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// StorageError wraps a persistence failure with the operation that hit
// it. A storage error is fatal for the operation in flight: in-memory
// success is never reported when the matching persist failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
