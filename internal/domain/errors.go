package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownNode         = fmt.Errorf("unknown node: %w", ErrNotFound)
	ErrInvalidReference    = errors.New("invalid reference")
	ErrInvalidSopReference = fmt.Errorf("invalid sop reference: %w", ErrInvalidReference)
	ErrMissingFeedback     = errors.New("missing feedback")
	ErrAdvisoryUnavailable = errors.New("advisory unavailable")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTaskImmutable       = errors.New("task is completed and immutable")
	ErrInvalidRule         = errors.New("invalid rule")
	ErrConflict            = errors.New("conflict")
)

// StaleRuleWarning reports a rule that could not be evaluated against its node.
// It is carried in evaluation results and never aborts an evaluation.
type StaleRuleWarning struct {
	RuleID string `json:"rule_id"`
	NodeID string `json:"node_id"`
	Metric string `json:"metric"`
	Reason string `json:"reason"`
}

func (w StaleRuleWarning) Error() string {
	return fmt.Sprintf("rule %s: metric %q on node %s: %s", w.RuleID, w.Metric, w.NodeID, w.Reason)
}

// ReferenceError names the dangling link behind an ErrInvalidReference.
type ReferenceError struct {
	Kind string
	ID   string
	Err  error
}

func (e ReferenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, e.Err)
}

func (e ReferenceError) Unwrap() error { return e.Err }

// InvalidSop builds the error returned when a task would point at a missing SOP.
func InvalidSop(id string) error {
	return ReferenceError{Kind: "sop", ID: id, Err: ErrInvalidSopReference}
}

// InvalidRef builds an ErrInvalidReference for the given entity kind.
func InvalidRef(kind, id string) error {
	return ReferenceError{Kind: kind, ID: id, Err: ErrInvalidReference}
}
