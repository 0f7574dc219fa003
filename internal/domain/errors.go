package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotAuthorized          ErrorKind = "not_authorized"
	KindNotFound               ErrorKind = "not_found"
	KindValidation             ErrorKind = "validation"
	KindAlreadyClaimed         ErrorKind = "already_claimed"
	KindInvalidTransition      ErrorKind = "invalid_transition"
	KindVersionConflict        ErrorKind = "version_conflict"
	KindClaimOwnershipConflict ErrorKind = "claim_ownership_conflict"
	KindTaskTypeAlreadyExists  ErrorKind = "task_type_already_exists"
	KindTaskTypeInUse          ErrorKind = "task_type_in_use"
	KindSessionAlreadyActive   ErrorKind = "session_already_active"
	KindDB                     ErrorKind = "db_error"
)

// Error is the closed set of failures surfaced to callers of the engine.
type Error struct {
	Kind     ErrorKind
	Message  string
	Claimant string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindClaimOwnershipConflict && e.Claimant != "":
		return fmt.Sprintf("%s: task already claimed by %s", e.Kind, e.Claimant)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotAuthorized          = &Error{Kind: KindNotAuthorized}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrAlreadyClaimed         = &Error{Kind: KindAlreadyClaimed}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrVersionConflict        = &Error{Kind: KindVersionConflict}
	ErrClaimOwnershipConflict = &Error{Kind: KindClaimOwnershipConflict}
	ErrTaskTypeAlreadyExists  = &Error{Kind: KindTaskTypeAlreadyExists}
	ErrTaskTypeInUse          = &Error{Kind: KindTaskTypeInUse}
	ErrSessionAlreadyActive   = &Error{Kind: KindSessionAlreadyActive}
	ErrDB                     = &Error{Kind: KindDB}
)

func NotAuthorized(format string, args ...any) error {
	return &Error{Kind: KindNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AlreadyClaimed(taskID string) error {
	return &Error{Kind: KindAlreadyClaimed, Message: "task " + taskID + " is already claimed by you"}
}

func InvalidTransition(from TaskStatus, op string) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot %s a task that is %s", op, from)}
}

func VersionConflict(expected, actual int64) error {
	return &Error{Kind: KindVersionConflict, Message: fmt.Sprintf("expected version %d, current version %d", expected, actual)}
}

func ClaimOwnershipConflict(claimant string) error {
	return &Error{Kind: KindClaimOwnershipConflict, Claimant: claimant}
}

func TaskTypeAlreadyExists(name string) error {
	return &Error{Kind: KindTaskTypeAlreadyExists, Message: fmt.Sprintf("task type %q already exists", name)}
}

func TaskTypeInUse(id string) error {
	return &Error{Kind: KindTaskTypeInUse, Message: fmt.Sprintf("task type %s is referenced by tasks", id)}
}

func SessionAlreadyActive(taskID string) error {
	return &Error{Kind: KindSessionAlreadyActive, Message: "task " + taskID + " already has an active work session"}
}

func SessionClosed(sessionID string) error {
	return &Error{Kind: KindInvalidTransition, Message: "work session " + sessionID + " is already closed"}
}

// DBError wraps an infrastructure failure. Domain errors pass through unchanged.
func DBError(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindDB, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// ClaimantOf returns the claimant carried by a ClaimOwnershipConflict.
func ClaimantOf(err error) (string, bool) {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindClaimOwnershipConflict {
		return de.Claimant, true
	}
	return "", false
}
