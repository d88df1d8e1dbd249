package bootloader

import (
	"context"
	"time"
)

// Session phases reported in Progress.Phase.
const (
	PhaseConnecting   = "connecting"
	PhaseIdentifying  = "identifying"
	PhaseUnprotecting = "unprotecting"
	PhaseErasing      = "erasing"
	PhaseProgramming  = "programming"
	PhaseJumping      = "jumping"
	PhaseComplete     = "complete"
)

// Progress contains information about the flashing progress.
// Passed to ProgressCallback at every major step and after each page write.
type Progress struct {
	// Phase describes the current operation phase:
	//   "connecting"   - Probing the bootloader with 0x7F
	//   "identifying"  - Reading the command table and device ID
	//   "unprotecting" - Lifting readout protection (device will reset)
	//   "erasing"      - Mass erasing flash
	//   "programming"  - Writing pages
	//   "jumping"      - Starting the programmed firmware
	//   "complete"     - Operation completed successfully
	Phase string

	// Message is a human readable description of the step
	Message string

	// Address is the base address of the last page written
	Address uint32

	// PagesWritten is the number of pages written so far
	PagesWritten int

	// TotalPages is the number of pages the image will be written in
	TotalPages int

	// BytesWritten is the total number of bytes written so far
	BytesWritten int

	// TotalBytes is the number of data bytes in the image
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the session started
	ElapsedTime time.Duration
}

// ProgressCallback is called during flashing to report progress.
// Implementations should return quickly to avoid stalling the serial link.
//
// Example:
//
//	sess := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %s\n", p.Phase, p.Percentage, p.Message)
//	    }),
//	)
type ProgressCallback func(Progress)

// PromptFunc is called before every handshake so the operator can place the
// device in bootloader mode. Returning an error aborts the session.
type PromptFunc func(ctx context.Context) error

// Logger is an optional logging interface that can be provided to the session.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	sess := bootloader.New(port, bootloader.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
