// Package errx classifies application errors by Kind so transports can map
// them to status codes without knowing which layer produced them.
package errx

import (
	"errors"
	"fmt"
)

// Kind is the coarse class of an error. Transports map it, never the cause.
type Kind uint8

const (
	Unknown Kind = iota
	NotFound
	Conflict
	Invalid
	Expired
	Unavailable
	Internal
)

// Error records the operation that failed, its Kind, and the cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E wraps err with op and kind. A nil err yields nil.
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

var kindNames = [...]string{
	Unknown:     "Unknown",
	NotFound:    "NotFound",
	Conflict:    "Conflict",
	Invalid:     "Invalid",
	Expired:     "Expired",
	Unavailable: "Unavailable",
	Internal:    "Internal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// OpOf returns the Op of the outermost *Error in err's chain.
func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
