package pipeline

import "fmt"

// FailureKind tags which stage an attempt died in. The retry loop treats
// every kind the same; the tag exists for the log line.
type FailureKind int

const (
	FailureConnection FailureKind = iota
	FailureExtraction
	FailureLoad
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureExtraction:
		return "extraction"
	case FailureLoad:
		return "load"
	default:
		return "unknown"
	}
}

// StageError is a failed stage surfaced to the attempt loop.
type StageError struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s stage failed: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s stage failed: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
