package job

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is matched by every DecodeError
	ErrDecode = errors.New("job payload decode failed")

	// ErrProtocol is returned when a delivery tag is acknowledged more than once
	ErrProtocol = errors.New("delivery already acknowledged")

	// ErrMissingIdentity is returned by ID when the message carried no message id
	ErrMissingIdentity = errors.New("message id not present")

	// ErrUnregisteredCommand is returned when serializing a command the codec does not know
	ErrUnregisteredCommand = errors.New("command is not registered")

	// ErrDuplicateCommand is returned when a command name is registered twice
	ErrDuplicateCommand = errors.New("command already registered")

	// ErrInvalidDelay is returned by Release for negative delays
	ErrInvalidDelay = errors.New("release delay must not be negative")

	// ErrAckFailed is returned when the broker call settling a delivery fails.
	// The handle is consumed anyway; the broker redelivers the message once
	// the channel is gone.
	ErrAckFailed = errors.New("delivery acknowledgement failed")
)

// DecodeError reports a body or command payload that cannot be turned into a Command
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecode) match any DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeError(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}
