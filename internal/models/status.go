// Package models holds the persisted records, the session-only mailbox
// account and the job status pipeline.
//
// Job status pipeline:
//
//	detected ──► saved ──► applied_manual ─┐
//	                  └──► applied_auto ───┴──► interview
//
// Every non-terminal status may jump to offer or rejected. offer and
// rejected are terminal.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// JobStatus is a stage of the application pipeline.
type JobStatus string

const (
	StatusDetected      JobStatus = "detected"
	StatusSaved         JobStatus = "saved"
	StatusAppliedManual JobStatus = "applied_manual"
	StatusAppliedAuto   JobStatus = "applied_auto"
	StatusInterview     JobStatus = "interview"
	StatusOffer         JobStatus = "offer"
	StatusRejected      JobStatus = "rejected"
)

// ErrInvalidTransition is returned when a status change skips the pipeline.
var ErrInvalidTransition = errors.New("invalid status transition")

var forwardTransitions = map[JobStatus][]JobStatus{
	StatusDetected:      {StatusSaved},
	StatusSaved:         {StatusAppliedManual, StatusAppliedAuto},
	StatusAppliedManual: {StatusInterview},
	StatusAppliedAuto:   {StatusInterview},
	StatusInterview:     {},
}

// ParseJobStatus converts a raw value to a JobStatus. Matching ignores case
// and surrounding space.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusDetected, StatusSaved, StatusAppliedManual, StatusAppliedAuto,
		StatusInterview, StatusOffer, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether no further transitions leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusOffer || s == StatusRejected
}

// CanTransition reports whether moving from → to is allowed. Staying on the
// same status is always allowed.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := forwardTransitions[from]
	if !ok {
		return false
	}
	if to == StatusOffer || to == StatusRejected {
		return true
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
