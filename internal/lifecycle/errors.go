package lifecycle

import (
	"errors"
	"fmt"

	"github.com/TWRT/task-lifecycle/internal/models"
)

// Kind classifies an expected failure of a lifecycle operation.
type Kind string

const (
	KindVersionConflict   Kind = "version_conflict"
	KindAlreadyOwned      Kind = "already_owned"
	KindNotOwner          Kind = "not_owner"
	KindNotAuthorized     Kind = "not_authorized"
	KindInvalidInput      Kind = "invalid_input"
	KindFieldNotEditable  Kind = "field_not_editable"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindIdentityMissing   Kind = "identity_missing"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindAmbiguous         Kind = "ambiguous"
	KindDuplicate         Kind = "duplicate"
)

// Retryable reports whether the whole operation may succeed when repeated
// with a freshly read version.
func (k Kind) Retryable() bool {
	return k == KindVersionConflict || k == KindStoreUnavailable
}

// Error is the tagged failure returned by every mutation. Current carries the
// authoritative record whenever one was read, so callers can reconcile.
type Error struct {
	Kind      Kind
	Message   string
	Current   *models.Task
	Owner     string
	Suggested int
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf returns the Kind of err, or "" when err is not a lifecycle failure.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func withCurrent(kind Kind, current models.Task, format string, args ...any) *Error {
	c := current.Clone()
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Current: &c,
		Owner:   current.OwnerOperator,
	}
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps an infrastructure error as a retryable store failure.
func Unavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: "authoritative store unreachable", Err: err}
}

func NotFound(ref models.TaskRef) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("task %s/%d not found", ref.Sheet, ref.Number)}
}
