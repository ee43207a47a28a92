package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidGraph is matched by every ResolutionInvariantError.
var ErrInvalidGraph = errors.New("graph invariant violated")

// InputError rejects a request before any work or credit reservation.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// ResolutionInvariantError means resolution produced a graph that breaks a
// structural rule. It indicates a bug, never bad user input.
type ResolutionInvariantError struct {
	Rule     string
	EntityID string
	Detail   string
}

func (e *ResolutionInvariantError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("graph invariant %q violated for %s: %s", e.Rule, e.EntityID, e.Detail)
	}
	return fmt.Sprintf("graph invariant %q violated: %s", e.Rule, e.Detail)
}

func (e *ResolutionInvariantError) Is(target error) bool {
	return target == ErrInvalidGraph
}
