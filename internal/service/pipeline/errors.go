package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind is the machine readable failure taxonomy shared by logs and HTTP bodies.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	TranscriptionFailed  FailureKind = "TranscriptionFailed"
	ClassificationFailed FailureKind = "ClassificationFailed"
	GenerationFailed     FailureKind = "GenerationFailed"
	SynthesisFailed      FailureKind = "SynthesisFailed"
	MissingInput         FailureKind = "MissingInput"
	UpstreamUnavailable  FailureKind = "UpstreamUnavailable"
)

// Error carries the failure kind of the stage that aborted a turn.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) FailureKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return FailureNone
}

func missingInput(detail string) error {
	return &Error{Kind: MissingInput, Err: errors.New(detail)}
}
