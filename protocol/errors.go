package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNack indicates the bootloader rejected a command or frame.
	ErrNack = errors.New("bootloader sent NACK")

	// ErrTimeout indicates the retry budget ran out with nothing received.
	ErrTimeout = errors.New("timed out waiting for ACK")
)

// UnexpectedResponseError is returned when the bootloader answers with a byte
// that is neither ACK nor NACK. It is treated like a NACK by callers.
type UnexpectedResponseError struct {
	Response byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response 0x%02X, expected ACK (0x%02X)", e.Response, Ack)
}

// Is makes errors.Is(err, ErrNack) hold for unexpected responses.
func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrNack
}

// ProtocolError ties a link failure to the operation that caused it.
type ProtocolError struct {
	// Operation is the command or frame that failed
	Operation string

	// Err is the underlying failure (ErrNack, ErrTimeout, a channel error, ...)
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsNack returns true if err was caused by a NACK or an unexpected response byte.
func IsNack(err error) bool {
	return errors.Is(err, ErrNack)
}

// IsTimeout returns true if err was caused by an exhausted ACK budget.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
