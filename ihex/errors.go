package ihex

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord matches every MalformedRecordError.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError indicates a line that is not a structurally valid Intel HEX record.
type MalformedRecordError struct {
	// Line is the 1-based line number, or 0 when parsing a single record
	Line int

	// Reason describes what is wrong with the record
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: malformed record: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed record: %s", e.Reason)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func malformed(format string, args ...interface{}) error {
	return &MalformedRecordError{Reason: fmt.Sprintf(format, args...)}
}
