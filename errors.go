package gelfpipe

import (
	"errors"
	"fmt"
)

// Kind classifies the failures that can end a delivery.
type Kind int

const (
	// KindConfiguration covers bad level names, bad host:port targets and
	// other option errors detected before any work is done.
	KindConfiguration Kind = iota + 1

	// KindConnection covers failures to dial the collector or to issue the
	// HTTP request, and HTTP responses that reject the payload.
	KindConnection

	// KindEncoding covers input that cannot be rendered as JSON text.
	KindEncoding

	// KindWrite covers a sink rejecting or failing a write mid-stream.
	KindWrite

	// KindRead covers failures reading the message body.
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindConnection:
		return "ConnectionError"
	case KindEncoding:
		return "EncodingError"
	case KindWrite:
		return "WriteError"
	case KindRead:
		return "ReadError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the typed error returned by every component. Op names what was
// being attempted.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrConnection    = &Error{Kind: KindConnection}
	ErrEncoding      = &Error{Kind: KindEncoding}
	ErrWrite         = &Error{Kind: KindWrite}
	ErrRead          = &Error{Kind: KindRead}
)

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// wrapError is newError for failures reported by a downstream writer, which
// may already have classified them; those are returned as they are.
func wrapError(kind Kind, op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(kind, op, err)
}
