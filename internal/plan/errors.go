package plan

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of an orchestration run.
type ErrorKind string

const (
	KindContextBuild    ErrorKind = "context_build"
	KindEngineExecution ErrorKind = "engine_execution"
	KindParse           ErrorKind = "parse"
	KindValidation      ErrorKind = "validation"
	KindPersistence     ErrorKind = "persistence"
)

var (
	ErrOutcomeNotFound = errors.New("outcome not found")
	ErrNoJSON          = errors.New("no valid JSON found")
	ErrEmptyOrder      = errors.New("ordered_task_ids is empty")
	ErrNilOutput       = errors.New("engine output is nil")
)

// Error wraps an underlying failure with its kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil when err is nil.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	for err != nil {
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
	}
	return false
}
