// Package apperr defines the failure kinds shared by the command pipeline,
// the store adapters and the reminder scheduler.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so the user-facing boundary can map it to a reply
// without inspecting the underlying cause.
type Kind string

const (
	KindExtraction     Kind = "extraction_failure"
	KindParse          Kind = "parse_failure"
	KindValidation     Kind = "validation_failure"
	KindReconciliation Kind = "reconciliation_miss"
	KindPersistence    Kind = "persistence_failure"
	KindDelivery       Kind = "delivery_failure"
	KindInternal       Kind = "internal"
)

// Sentinels usable with errors.Is.
var (
	Extraction     = &Error{Kind: KindExtraction}
	Parse          = &Error{Kind: KindParse}
	Validation     = &Error{Kind: KindValidation}
	Reconciliation = &Error{Kind: KindReconciliation}
	Persistence    = &Error{Kind: KindPersistence}
	Delivery       = &Error{Kind: KindDelivery}
)

// Error carries a Kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	switch {
	case op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v (%s)", op, e.Err, e.Kind)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v (%s)", e.Err, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap annotates err with a kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
