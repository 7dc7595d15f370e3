// Package batch drives a batch from submission to a combined result.
package batch

import (
	"errors"
	"fmt"
)

// Kind classifies a start failure.
type Kind string

const (
	// KindInput: unparseable schema text or no files. Nothing was created.
	KindInput Kind = "input"
	// KindUpload: a file could not be stored. Earlier uploads remain.
	KindUpload Kind = "upload"
	// KindRecord: a record store call or subscription failed.
	KindRecord Kind = "record"
)

var (
	// ErrInvalidSchema is the input error for an unusable schema text.
	ErrInvalidSchema = errors.New("schema input is invalid")
	// ErrNoFiles is the input error for an empty submission.
	ErrNoFiles = errors.New("no files selected")
)

// Error is returned by Controller.Start.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a start failure, or "" when err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
