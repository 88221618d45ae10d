package palsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("invalid state")
	ErrStoreUnavailable = errors.New("local store unavailable")
	ErrNotImplemented   = errors.New("not implemented")
)

// ErrorClass tags a repository failure with its retry semantics.
// Permanent failures recur identically on retry (authorization/policy
// denials); transient failures may succeed next time.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// RepoError wraps a repository failure with a classification decided at
// the transport boundary.
type RepoError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *RepoError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s repository failure: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s repository failure: %v", e.Op, e.Class, e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

func NewPermanentError(op string, err error) *RepoError {
	return &RepoError{Class: ErrorClassPermanent, Op: op, Err: err}
}

func NewTransientError(op string, err error) *RepoError {
	return &RepoError{Class: ErrorClassTransient, Op: op, Err: err}
}

// Classify returns the retry class of a repository error. Typed errors
// carry their own class; anything else falls back to scanning the message
// for access-control signals, which is how untyped backend errors
// historically arrived.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassTransient
	}
	var repoErr *RepoError
	if errors.As(err, &repoErr) {
		return repoErr.Class
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range []string{"rls", "permission", "403", "unauthorized", "forbidden"} {
		if strings.Contains(msg, signal) {
			return ErrorClassPermanent
		}
	}
	return ErrorClassTransient
}
