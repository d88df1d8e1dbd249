package serialport

import "time"

// Config holds the serial port configuration.
type Config struct {
	// BaudRate is the line speed; the bootloader detects it from the 0x7F probe
	BaudRate int

	// ReadTimeout bounds how long ReadByte waits for a byte
	ReadTimeout time.Duration

	// PollTimeout is how long Available waits for a byte before reporting none
	PollTimeout time.Duration

	// ResetHold is how long nRST is held low by ResetIntoBootloader
	ResetHold time.Duration

	// BootDelay is the time the bootloader needs after reset before the probe
	BootDelay time.Duration

	// InvertSignals swaps the idle level of DTR and RTS for adapters that
	// drive nRST and BOOT0 through inverting transistors
	InvertSignals bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		BaudRate:    115200,
		ReadTimeout: time.Second,
		PollTimeout: time.Millisecond,
		ResetHold:   50 * time.Millisecond,
		BootDelay:   100 * time.Millisecond,
	}
}

// Option is a functional option for configuring a Port.
type Option func(*Config)

// WithBaudRate sets the line speed. Default is 115200; the bootloader accepts
// 1200 to 115200 baud.
//
// Example:
//
//	port, err := serialport.Open("/dev/ttyUSB0", serialport.WithBaudRate(57600))
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithReadTimeout sets how long ReadByte waits for a byte. Default is 1s.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithPollTimeout sets how long Available blocks. Default is 1ms.
func WithPollTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.PollTimeout = timeout
		}
	}
}

// WithResetTiming sets the reset pulse width and the delay after it.
func WithResetTiming(hold, boot time.Duration) Option {
	return func(c *Config) {
		if hold > 0 {
			c.ResetHold = hold
		}
		if boot >= 0 {
			c.BootDelay = boot
		}
	}
}

// WithInvertedSignals flips the DTR and RTS levels used by the reset helpers.
func WithInvertedSignals(invert bool) Option {
	return func(c *Config) {
		c.InvertSignals = invert
	}
}
