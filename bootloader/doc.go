// Package bootloader provides a high-level API for flashing STM32 microcontrollers
// through their built-in UART bootloader (ST AN3155).
//
// # Overview
//
// A Session runs the complete flashing sequence as a state machine:
//   - Probing the bootloader with 0x7F (even parity, 8E1)
//   - Reading the command table (GET) and device ID (GET ID)
//   - Reading the flash size, lifting readout protection when it is refused
//   - Mass erasing flash with ERASE or EXTENDED ERASE
//   - Writing the Intel HEX image in coalesced pages of up to 256 bytes
//   - Jumping to the start address with GO
//
// The byte level exchange (command selection, XOR checksums, ACK polling) is
// handled by Link, which can also be used on its own.
//
// # Basic Usage
//
// The simplest way to flash a device:
//
//	port, err := serialport.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	f, err := os.Open("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	sess := bootloader.New(port)
//	if err := sess.Run(context.Background(), f); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress Tracking
//
// Track flashing progress with a callback:
//
//	sess := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - page %d/%d\n",
//	            p.Phase, p.Percentage, p.PagesWritten, p.TotalPages)
//	    }),
//	)
//
// # Retry Policy
//
// Every device step (identify, erase, each page write, GO) is retried up to
// StepAttempts times, redoing the whole exchange from the command byte. A page
// is never skipped: the next page is only written once the current one was
// acknowledged. When a step runs out of attempts Run returns a *StepError
// naming the step and, for page writes, the page address.
//
// Setting WithStepAttempts(0) and WithHandshakeAttempts(0) retries forever,
// which suits an operator-supervised station who can power cycle the board.
//
// # Readout Protection
//
// A device that refuses READ MEMORY is readout protected. Run then sends
// READOUT UNPROTECT, which mass erases the flash and resets the part, and
// restarts from the handshake. This is not reported as an error.
//
// # Logging
//
// Logger takes a message and alternating keys and values, which maps directly
// onto structured loggers. With zerolog:
//
//	type zlog struct{ l zerolog.Logger }
//
//	func (z zlog) Debug(msg string, kv ...interface{}) { z.l.Debug().Fields(kv).Msg(msg) }
//	func (z zlog) Info(msg string, kv ...interface{})  { z.l.Info().Fields(kv).Msg(msg) }
//	func (z zlog) Error(msg string, kv ...interface{}) { z.l.Error().Fields(kv).Msg(msg) }
//
//	sess := bootloader.New(port, bootloader.WithLogger(zlog{l: log.Logger}))
//
// Every failed attempt is logged at Error level with the step name, the
// attempt number and the cause; probe failures and page writes are logged at
// Debug level.
//
// # Context Support
//
// Run checks the context between ACK polls and between attempts:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
//	defer cancel()
//
//	err := sess.Run(ctx, f)
//
// # Error Handling
//
// The package provides structured error types:
//   - StepError: A step ran out of retries
//   - VerificationError: A page read back differs from the image
//   - ErrReadoutProtected: READ MEMORY refused (ReadMemory only)
//   - ErrNotConnected: Command issued before the handshake
//   - ihex.MalformedRecordError: The image is not valid Intel HEX
//   - protocol.ProtocolError: A command or frame was NACKed or timed out
//
// # Hardware Independence
//
// A Session talks to a Channel: a byte stream with an availability check, a
// flush and a parity switch. Package serialport provides one over a real
// UART and package bootloadertest a simulated device for tests.
package bootloader
