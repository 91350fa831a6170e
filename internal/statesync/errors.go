package statesync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPartialSync       = errors.New("state sync incomplete")
	ErrPrecisionMismatch = errors.New("token precision mismatch")
)

// FieldError is one failed fetch.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e FieldError) Unwrap() error { return e.Err }

// SyncError reports the fields a refresh could not fetch. Fields that were
// fetched successfully have already been written to the session.
type SyncError struct {
	Attempted int
	Failed    []FieldError
}

func (e *SyncError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s (%d/%d fields failed): %s", ErrPartialSync, len(e.Failed), e.Attempted, strings.Join(parts, "; "))
}

// Partial reports whether at least one field was fetched.
func (e *SyncError) Partial() bool { return len(e.Failed) < e.Attempted }

func (e *SyncError) Fields() []string {
	out := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Field)
	}
	return out
}

func (e *SyncError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed)+1)
	out = append(out, ErrPartialSync)
	for _, f := range e.Failed {
		out = append(out, f)
	}
	return out
}

// merge combines the results of concurrent refreshes into one error covering
// attempted fields in total.
func merge(attempted int, errs ...error) error {
	var (
		combined SyncError
		other    []error
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		var se *SyncError
		if errors.As(err, &se) {
			combined.Failed = append(combined.Failed, se.Failed...)
			continue
		}
		other = append(other, err)
	}
	if len(combined.Failed) == 0 {
		return errors.Join(other...)
	}
	combined.Attempted = max(attempted, len(combined.Failed))
	if len(other) > 0 {
		return errors.Join(append([]error{&combined}, other...)...)
	}
	return &combined
}
