package bootloader

import (
	"time"

	"github.com/moffa90/go-stmisp/protocol"
)

// Config holds the session configuration.
type Config struct {
	// ProgressCallback is called during flashing to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Prompt is called before probing the bootloader (optional)
	Prompt PromptFunc

	// PollInterval is the delay between two checks for a response byte
	PollInterval time.Duration

	// ShortAckRetries is the ACK budget, in polls, for the 0x7F probe
	ShortAckRetries int

	// LongAckRetries is the ACK budget, in polls, for commands and frames
	LongAckRetries int

	// CommandAttempts is how often a command selection is re-sent until ACKed.
	// Zero means no limit.
	CommandAttempts int

	// StepAttempts bounds the retries of each session step (identify, erase,
	// page write, GO). Zero retries forever.
	StepAttempts int

	// HandshakeAttempts bounds the number of probes. Zero probes until the
	// context is cancelled.
	HandshakeAttempts int

	// Resume skips the first handshake, continuing a session left in the bootloader
	Resume bool

	// ParityOverride keeps the channel parity untouched (8N1 links)
	ParityOverride bool

	// FlashSizeAddress is the address of the flash size register
	FlashSizeAddress uint32

	// Verify reads each page back after writing it
	Verify bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		PollInterval:     time.Millisecond,
		ShortAckRetries:  1000,
		LongAckRetries:   5000,
		CommandAttempts:  3,
		StepAttempts:     10,
		FlashSizeAddress: protocol.FlashSizeRegister,
	}
}

// Option is a functional option for configuring a Session or Link.
type Option func(*Config)

// WithProgressCallback sets a callback function to track flashing progress.
//
// Example:
//
//	sess := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the session operations.
//
// Example:
//
//	sess := bootloader.New(port, bootloader.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithPrompt sets a hook run before each handshake, typically asking the
// operator to reset the board with BOOT0 high.
//
// Example:
//
//	sess := bootloader.New(port, bootloader.WithPrompt(func(ctx context.Context) error {
//	    fmt.Print("Place STM in bootloader mode and press enter >")
//	    _, err := bufio.NewReader(os.Stdin).ReadString('\n')
//	    return err
//	}))
func WithPrompt(prompt PromptFunc) Option {
	return func(c *Config) {
		c.Prompt = prompt
	}
}

// WithPollInterval sets the delay between two checks for a response byte.
// Default is 1ms; zero polls without sleeping.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval >= 0 {
			c.PollInterval = interval
		}
	}
}

// WithAckRetries sets the ACK budgets, counted in polls.
// Default is 1000 for the probe and 5000 for everything else.
//
// Example:
//
//	// Slow mass erase on a 1MB part: allow 30 seconds
//	sess := bootloader.New(port, bootloader.WithAckRetries(1000, 30000))
func WithAckRetries(short, long int) Option {
	return func(c *Config) {
		if short > 0 {
			c.ShortAckRetries = short
		}
		if long > 0 {
			c.LongAckRetries = long
		}
	}
}

// WithCommandAttempts sets how often a command is re-sent until ACKed.
// Default is 3; zero re-sends until the context is cancelled.
func WithCommandAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts >= 0 {
			c.CommandAttempts = attempts
		}
	}
}

// WithStepAttempts sets the retry budget of each session step.
// Default is 10. Zero retries forever, the behaviour of an operator-supervised
// flashing station.
//
// Example:
//
//	sess := bootloader.New(port, bootloader.WithStepAttempts(3))
func WithStepAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts >= 0 {
			c.StepAttempts = attempts
		}
	}
}

// WithHandshakeAttempts bounds the number of 0x7F probes.
// Default is zero: probe until the context is cancelled.
func WithHandshakeAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts >= 0 {
			c.HandshakeAttempts = attempts
		}
	}
}

// WithResume skips the first handshake when the device is known to be in
// bootloader mode already, for example after an aborted session.
func WithResume(resume bool) Option {
	return func(c *Config) {
		c.Resume = resume
	}
}

// WithParityOverride leaves the channel parity as configured instead of
// switching to even parity.
func WithParityOverride(override bool) Option {
	return func(c *Config) {
		c.ParityOverride = override
	}
}

// WithFlashSizeAddress sets the address of the flash size register.
// Default is 0x1FFFF7E0 (STM32F1); STM32F4 parts use 0x1FFF7A22.
func WithFlashSizeAddress(addr uint32) Option {
	return func(c *Config) {
		c.FlashSizeAddress = addr
	}
}

// WithVerify enables reading back every page after it is written.
// Default is false.
//
// Example:
//
//	sess := bootloader.New(port, bootloader.WithVerify(true))
func WithVerify(verify bool) Option {
	return func(c *Config) {
		c.Verify = verify
	}
}
