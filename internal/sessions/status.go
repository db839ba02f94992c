// Package sessions holds the review-session lifecycle: the status set, the
// static transition table and the activity vocabulary recorded against it.
package sessions

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a search session.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusStrategyReady  Status = "strategy_ready"
	StatusExecuting      Status = "executing"
	StatusProcessing     Status = "processing"
	StatusReadyForReview Status = "ready_for_review"
	StatusUnderReview    Status = "under_review"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusArchived       Status = "archived"
)

// ErrInvalidTransition is returned when the transition table forbids a move.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus is returned for values outside the status set.
var ErrUnknownStatus = errors.New("unknown session status")

var transitions = map[Status][]Status{
	StatusDraft:          {StatusStrategyReady, StatusArchived},
	StatusStrategyReady:  {StatusDraft, StatusExecuting, StatusArchived},
	StatusExecuting:      {StatusProcessing, StatusFailed, StatusStrategyReady},
	StatusProcessing:     {StatusReadyForReview, StatusFailed},
	StatusReadyForReview: {StatusUnderReview, StatusExecuting, StatusArchived},
	StatusUnderReview:    {StatusCompleted, StatusReadyForReview},
	StatusCompleted:      {StatusArchived, StatusUnderReview},
	StatusFailed:         {StatusDraft, StatusStrategyReady, StatusExecuting},
	StatusArchived:       {StatusDraft, StatusCompleted},
}

var labels = map[Status]string{
	StatusDraft:          "Draft",
	StatusStrategyReady:  "Strategy Ready",
	StatusExecuting:      "Executing Searches",
	StatusProcessing:     "Processing Results",
	StatusReadyForReview: "Ready for Review",
	StatusUnderReview:    "Under Review",
	StatusCompleted:      "Completed",
	StatusFailed:         "Failed",
	StatusArchived:       "Archived",
}

// All returns every status in lifecycle order.
func All() []Status {
	return []Status{
		StatusDraft, StatusStrategyReady, StatusExecuting, StatusProcessing,
		StatusReadyForReview, StatusUnderReview, StatusCompleted, StatusFailed, StatusArchived,
	}
}

// Parse normalises and checks a raw status value.
func Parse(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// Valid reports whether s belongs to the status set.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Label is the human readable name used in reports.
func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Next lists the statuses reachable from s in one step.
func (s Status) Next() []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether moving from -> to is allowed. Staying in the
// same status is always allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate returns a descriptive error when the move is not allowed.
func Validate(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Executable reports whether searches may be started from s.
func (s Status) Executable() bool {
	return s == StatusStrategyReady || s == StatusReadyForReview || s == StatusFailed
}

// Reviewable reports whether decisions may be recorded in s.
func (s Status) Reviewable() bool {
	return s == StatusReadyForReview || s == StatusUnderReview || s == StatusCompleted
}

// Deletable reports whether the session may be removed.
func (s Status) Deletable() bool {
	return s == StatusDraft
}
