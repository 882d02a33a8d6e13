// Package carderr defines the fixed set of failure kinds that cross the
// boundary of the card communication core.
//
// Every failure raised by the transport, the APDU engine or the session layer
// is classified into exactly one Kind before it reaches a caller. The
// underlying platform error or status word stays available as diagnostic
// payload, but callers are expected to branch on the Kind only:
//
//	if errors.Is(err, carderr.ErrCardChanged) {
//	    // drop cached card objects and resolve the card again
//	}
package carderr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable error category.
type Kind int

const (
	// KindUnknown is never produced by Classify; it is the zero value.
	KindUnknown Kind = iota
	NoCardPresent
	CardChanged
	TransportError
	ProtocolError
	SecurityConditionNotSatisfied
	ObjectNotFound
)

func (k Kind) String() string {
	switch k {
	case NoCardPresent:
		return "no card present"
	case CardChanged:
		return "card changed"
	case TransportError:
		return "transport error"
	case ProtocolError:
		return "protocol error"
	case SecurityConditionNotSatisfied:
		return "security condition not satisfied"
	case ObjectNotFound:
		return "object not found"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on kind.
var (
	ErrNoCardPresent                 = &Error{Kind: NoCardPresent}
	ErrCardChanged                   = &Error{Kind: CardChanged}
	ErrTransport                     = &Error{Kind: TransportError}
	ErrProtocol                      = &Error{Kind: ProtocolError}
	ErrSecurityConditionNotSatisfied = &Error{Kind: SecurityConditionNotSatisfied}
	ErrObjectNotFound                = &Error{Kind: ObjectNotFound}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "transceive" or "read file 4031".
	Op string
	// Status is the terminal status word, when the failure came from the card.
	Status uint16
	// Retries is the remaining PIN tries for 63CX answers, -1 when unknown.
	Retries int
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (SW %04X)", msg, e.Status)
	}
	if e.Kind == SecurityConditionNotSatisfied && e.Retries >= 0 && e.Status&0xFFF0 == 0x63C0 {
		r := "retries"
		if e.Retries == 1 {
			r = "retry"
		}
		msg = fmt.Sprintf("%s, %d %s remaining", msg, e.Retries, r)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels work with
// errors.Is regardless of Op or payload.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error without a cause.
func New(op string, kind Kind) *Error {
	return &Error{Kind: kind, Op: op, Retries: -1}
}

// Wrap classifies err under the given kind.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Retries: -1, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown if err was never
// classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify guarantees that err maps to exactly one Kind. Already classified
// errors are returned unchanged; anything else, context cancellation and
// deadlines included, becomes TransportError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(op, TransportError, err)
}

// IsTimeout reports whether err is a TransportError caused by an expired or
// cancelled context.
func IsTimeout(err error) bool {
	if KindOf(err) != TransportError {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
