package bootloader

import (
	"errors"
	"fmt"
)

// ErrReadoutProtected is returned when the device refuses READ MEMORY.
// Run handles it by unprotecting the device; it only surfaces from
// ReadMemory or when unprotecting keeps failing.
var ErrReadoutProtected = errors.New("device is readout protected")

// ErrNotConnected is returned by operations that need the command table
// before a handshake completed.
var ErrNotConnected = errors.New("not connected to bootloader")

// StepError indicates that a session step ran out of retries.
// It carries enough state to resume: the step and, for page writes, the address.
type StepError struct {
	// Step names the failed step ("erase", "write memory", "go", ...)
	Step string

	// Address is the page or jump address, valid when HasAddress is set
	Address    uint32
	HasAddress bool

	// Attempts is the number of attempts made
	Attempts int

	// Err is the failure of the last attempt
	Err error
}

func (e *StepError) Error() string {
	if e.HasAddress {
		return fmt.Sprintf("%s at 0x%08X failed after %d attempts: %v", e.Step, e.Address, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// VerificationError indicates that a page read back differs from what was written.
type VerificationError struct {
	Address  uint32
	Offset   int
	Expected byte
	Actual   byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for page 0x%08X at offset %d: expected 0x%02X, got 0x%02X",
		e.Address, e.Offset, e.Expected, e.Actual)
}
