package model

import (
	"errors"
	"fmt"
)

// ErrCollaboratorUnavailable is matched by every failure of an external
// collaborator (market clock, position query, order execution, history).
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// CollaboratorError records which collaborator call failed.
type CollaboratorError struct {
	Collaborator string // "clock", "positions", "orders", "history"
	Op           string
	Err          error
}

// NewCollaboratorError wraps err, or returns nil when err is nil.
func NewCollaboratorError(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is makes every CollaboratorError match ErrCollaboratorUnavailable.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}
