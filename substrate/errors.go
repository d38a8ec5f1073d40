package substrate

import (
	"fmt"

	"github.com/featurebasedb/boxes/errors"
)

const (
	ErrUnknownObject  errors.Code = "UnknownObject"
	ErrUnknownHandler errors.Code = "UnknownHandler"
	ErrReadOnly       errors.Code = "ReadOnly"
	ErrClosed         errors.Code = "RuntimeClosed"
	ErrOutboxFull     errors.Code = "OutboxFull"
)

func NewErrUnknownObject(object string) error {
	return Terminal(errors.New(
		ErrUnknownObject,
		fmt.Sprintf("object '%s' is not bound", object),
	))
}

func NewErrUnknownHandler(object, method string) error {
	return Terminal(errors.New(
		ErrUnknownHandler,
		fmt.Sprintf("object '%s' has no handler '%s'", object, method),
	))
}

func NewErrClosed() error {
	return errors.New(ErrClosed, "runtime is closed")
}

func NewErrOutboxFull(msg *Message) error {
	return errors.New(
		ErrOutboxFull,
		fmt.Sprintf("outbox full, dropped %s", msg),
	)
}

// terminalError marks an error which must not be retried as-is.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }
func (e *terminalError) Cause() error  { return e.err }

// Terminal marks err as non-retriable. Handlers return terminal errors for
// input that can never succeed; the outbox drops such messages instead of
// redelivering them.
func Terminal(err error) error {
	if err == nil || IsTerminal(err) {
		return err
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err, or anything it wraps, was marked Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
