package etl

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure that aborts a sync run.
type ErrorKind int

const (
	// KindTransport: an extraction or load call failed.
	KindTransport ErrorKind = iota + 1
	// KindAuth: token acquisition failed or the response lacked the token key.
	KindAuth
	// KindSchedule: start/end were malformed or inverted.
	KindSchedule
	// KindData: a record lacked a field required by the schema.
	KindData
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindSchedule:
		return "schedule"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Error carries one of the taxonomy kinds up to the run orchestrator.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError wraps err as a KindTransport failure.
func TransportError(op string, err error) error { return wrap(KindTransport, op, err) }

// AuthError wraps err as a KindAuth failure.
func AuthError(op string, err error) error { return wrap(KindAuth, op, err) }

// ScheduleError wraps err as a KindSchedule failure.
func ScheduleError(op string, err error) error { return wrap(KindSchedule, op, err) }

// DataError wraps err as a KindData failure.
func DataError(op string, err error) error { return wrap(KindData, op, err) }

// wrap keeps an already-classified error as is.
func wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind carried by err, or 0 if it is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
