package bootloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/moffa90/go-stmisp/ihex"
	"github.com/moffa90/go-stmisp/protocol"
)

// Session drives a complete flashing sequence against an STM32 ISP bootloader:
// handshake, identification, readout unprotect if needed, mass erase, page
// programming and the jump to the new firmware.
//
// Session is not safe for concurrent use.
type Session struct {
	ch     Channel
	link   *Link
	config Config

	state   State
	table   *protocol.CommandTable
	id      protocol.DeviceID
	flashKB uint16

	skipProbe  bool
	unprotects int

	// requireAck is set after readout unprotect: the part resets and a NACK
	// to the probe no longer means it is synchronised
	requireAck bool

	start    time.Time
	progress Progress
}

// firmware is an Intel HEX image that parsed cleanly and is ready to stream.
type firmware struct {
	hex      []byte
	pages    int
	size     int
	entry    uint32
	hasEntry bool
}

// New creates a Session over ch with the given options.
// The channel stays owned by the caller and is not closed by the session.
//
// Example:
//
//	port, _ := serialport.Open("/dev/ttyUSB0")
//	defer port.Close()
//
//	sess := bootloader.New(port,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithStepAttempts(5),
//	)
func New(ch Channel, opts ...Option) *Session {
	if ch == nil {
		panic("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		ch:        ch,
		link:      newLink(ch, cfg),
		config:    cfg,
		skipProbe: cfg.Resume,
	}
}

// Run flashes the Intel HEX image read from r:
//  1. Validate the whole image (malformed input never reaches the device)
//  2. Switch to even parity and probe the bootloader with 0x7F
//  3. Read the command table (GET) and the device ID (GET ID)
//  4. Read the flash size; a NACK lifts readout protection and restarts at 2
//  5. Mass erase the flash
//  6. Write the image page by page, retrying a failed page
//  7. Jump to the start address with GO, if the image declares one
//
// Every device step is retried up to StepAttempts times. When a step runs out
// of attempts the session moves to StateFailed and Run returns a *StepError.
// The operation can be cancelled via context.
//
// Example:
//
//	f, _ := os.Open("firmware.hex")
//	defer f.Close()
//	err := sess.Run(context.Background(), f)
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	fw, err := loadFirmware(r)
	if err != nil {
		return fmt.Errorf("load firmware: %w", err)
	}

	if s.state != StateIdentified {
		s.reset()
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	s.progress = Progress{TotalPages: fw.pages, TotalBytes: fw.size}

	s.logDebug("firmware loaded",
		"pages", fw.pages,
		"bytes", fw.size,
		"has_entry", fw.hasEntry,
	)

	return s.runUntil(ctx, fw, State.Done)
}

// Connect probes the bootloader and reads its command table and device ID,
// leaving the session in StateIdentified. A following Run continues from there.
func (s *Session) Connect(ctx context.Context) error {
	s.reset()

	return s.runUntil(ctx, nil, func(st State) bool { return st == StateIdentified })
}

// reset starts a new session from StateDisconnected.
func (s *Session) reset() {
	s.state = StateDisconnected
	s.unprotects = 0
	s.requireAck = false
	s.start = time.Now()
}

func (s *Session) runUntil(ctx context.Context, fw *firmware, done func(State) bool) error {
	for !done(s.state) {
		if err := s.dispatch(ctx, fw); err != nil {
			s.state = StateFailed
			s.logError("session failed", "error", err)
			return err
		}
	}
	return nil
}

// dispatch performs the transition out of the current state.
func (s *Session) dispatch(ctx context.Context, fw *firmware) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled: %w", err)
	}

	switch s.state {
	case StateDisconnected:
		if !s.config.ParityOverride {
			if err := s.ch.SetEvenParity(); err != nil {
				return fmt.Errorf("set even parity: %w", err)
			}
		}
		s.state = StateHandshaking

	case StateHandshaking:
		if err := s.handshake(ctx); err != nil {
			return err
		}
		s.state = StateIdentified

	case StateIdentified:
		err := s.readFlashSize(ctx)
		if errors.Is(err, ErrReadoutProtected) {
			if err := s.unprotect(ctx); err != nil {
				return err
			}
			s.state = StateHandshaking
			return nil
		}
		if err != nil {
			return err
		}
		s.state = StateFlashSizeKnown

	case StateFlashSizeKnown:
		if err := s.erase(ctx); err != nil {
			return err
		}
		s.state = StateErased

	case StateErased:
		s.state = StateProgramming
		return s.program(ctx, fw)

	case StateProgramming:
		if !fw.hasEntry {
			s.state = StateComplete
			s.report(PhaseComplete, "flash complete",
				"pages", s.progress.PagesWritten,
				"bytes", s.progress.BytesWritten,
				"elapsed", time.Since(s.start).String(),
			)
			return nil
		}

		s.report(PhaseJumping, "flash complete, restarting", "entry", fmt.Sprintf("0x%08X", fw.entry))
		if err := s.Go(ctx, fw.entry); err != nil {
			return err
		}
		s.state = StateJumped
		s.report(PhaseComplete, "firmware started",
			"pages", s.progress.PagesWritten,
			"bytes", s.progress.BytesWritten,
			"elapsed", time.Since(s.start).String(),
		)

	default:
		return fmt.Errorf("no transition from state %s", s.state)
	}

	return nil
}

// handshake probes the bootloader (unless resuming) and identifies it.
func (s *Session) handshake(ctx context.Context) error {
	if s.skipProbe {
		s.skipProbe = false
		s.logDebug("resuming session, probe skipped")
	} else if err := s.sync(ctx); err != nil {
		return err
	}

	return s.retry(ctx, "identify", 0, false, func() error {
		return s.identify(ctx)
	})
}

// sync prompts the operator, then probes until the bootloader answers.
func (s *Session) sync(ctx context.Context) error {
	s.emit(PhaseConnecting, "waiting for bootloader")

	if s.config.Prompt != nil {
		if err := s.config.Prompt(ctx); err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
	}

	if err := s.ch.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	var err error
	attempt := 0
	for s.config.HandshakeAttempts == 0 || attempt < s.config.HandshakeAttempts {
		attempt++

		err = s.link.Probe(ctx)
		if err == nil || (!s.requireAck && alreadySynced(err)) {
			if err != nil {
				s.logDebug("probe NACKed, bootloader already synchronised")
			}
			s.requireAck = false
			s.report(PhaseConnecting, "bootloader alive", "probes", attempt)
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("cancelled: %w", ctxErr)
		}
		s.logDebug("probe failed", "attempt", attempt, "error", err)
	}

	return &StepError{Step: "handshake", Attempts: attempt, Err: err}
}

// alreadySynced reports whether a probe failure is a plain NACK. A bootloader
// that already locked its baud rate treats 0x7F as an unknown command.
func alreadySynced(err error) bool {
	var unexpected *protocol.UnexpectedResponseError
	return errors.Is(err, protocol.ErrNack) && !errors.As(err, &unexpected)
}

// identify reads the command table with GET and the product ID with GET ID.
func (s *Session) identify(ctx context.Context) error {
	if err := s.link.SendCommand(ctx, protocol.CmdGet); err != nil {
		return err
	}

	n, err := s.link.ReadByte()
	if err != nil {
		return fmt.Errorf("read command count: %w", err)
	}
	version, err := s.link.ReadByte()
	if err != nil {
		return fmt.Errorf("read bootloader version: %w", err)
	}
	opcodes, err := s.link.ReadBytes(int(n))
	if err != nil {
		return fmt.Errorf("read command table: %w", err)
	}
	if err := s.link.WaitAck(ctx, s.config.LongAckRetries); err != nil {
		return &protocol.ProtocolError{Operation: "get", Err: err}
	}

	table, err := protocol.ParseCommandTable(version, opcodes)
	if err != nil {
		return err
	}
	s.table = table
	s.report(PhaseIdentifying, "bootloader version "+table.VersionString(),
		"version", table.VersionString(),
		"commands", fmt.Sprintf("% X", table.Opcodes),
	)

	if err := s.link.SendCommand(ctx, table.GetID()); err != nil {
		return err
	}

	n, err = s.link.ReadByte()
	if err != nil {
		return fmt.Errorf("read ID length: %w", err)
	}
	raw, err := s.link.ReadBytes(int(n) + 1)
	if err != nil {
		return fmt.Errorf("read ID: %w", err)
	}
	if err := s.link.WaitAck(ctx, s.config.LongAckRetries); err != nil {
		return &protocol.ProtocolError{Operation: "get id", Err: err}
	}

	id, err := protocol.ParseDeviceID(raw)
	if err != nil {
		return err
	}
	s.id = id
	s.report(PhaseIdentifying, "device ID "+id.String(), "device_id", id.String())

	return nil
}

// readFlashSize reads the flash size register. A NACK on the READ MEMORY
// command itself is returned as ErrReadoutProtected without retrying.
func (s *Session) readFlashSize(ctx context.Context) error {
	return s.retry(ctx, "read flash size", s.config.FlashSizeAddress, true, func() error {
		data, err := s.ReadMemory(ctx, s.config.FlashSizeAddress, 2)
		if err != nil {
			return err
		}

		kb, err := protocol.ParseFlashSize(data)
		if err != nil {
			return err
		}
		s.flashKB = kb
		s.report(PhaseIdentifying, fmt.Sprintf("flash size %dKB", kb), "size_kb", kb)

		return nil
	})
}

// unprotect lifts readout protection. The device mass erases its flash,
// acknowledges a second time and resets, so the caller restarts the handshake.
func (s *Session) unprotect(ctx context.Context) error {
	s.unprotects++
	if s.config.StepAttempts > 0 && s.unprotects > s.config.StepAttempts {
		return &StepError{Step: "readout unprotect", Attempts: s.unprotects - 1, Err: ErrReadoutProtected}
	}

	s.report(PhaseUnprotecting, "readout protected, unprotecting")

	return s.retry(ctx, "readout unprotect", 0, false, func() error {
		if err := s.link.SendCommand(ctx, s.table.ReadoutUnprotect()); err != nil {
			return err
		}
		if err := s.link.WaitAck(ctx, s.config.LongAckRetries); err != nil {
			return &protocol.ProtocolError{Operation: "readout unprotect", Err: err}
		}

		s.skipProbe = false
		s.requireAck = true
		return nil
	})
}

// erase mass erases the flash with whichever erase command the device reports.
func (s *Session) erase(ctx context.Context) error {
	opcode := s.table.Erase()
	extended := s.table.ExtendedErase()

	s.report(PhaseErasing, fmt.Sprintf("global flash erase [command 0x%02X]", opcode),
		"extended", extended,
	)

	err := s.retry(ctx, "erase", 0, false, func() error {
		if err := s.link.SendCommand(ctx, opcode); err != nil {
			return err
		}
		if err := s.link.SendFrame(ctx, protocol.ErasePayload(extended)); err != nil {
			return &protocol.ProtocolError{Operation: "erase", Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.report(PhaseErasing, "erase done")
	return nil
}

// program streams the image through a Coalescer into WRITE MEMORY commands.
func (s *Session) program(ctx context.Context, fw *firmware) error {
	s.report(PhaseProgramming, "flashing device",
		"pages", fw.pages,
		"bytes", fw.size,
	)

	c := ihex.NewCoalescer(func(p *ihex.Page) error {
		return s.writePage(ctx, p)
	})

	if _, _, err := ihex.Stream(bytes.NewReader(fw.hex), c); err != nil {
		return err
	}

	return nil
}

// writePage writes one coalesced page, redoing the whole WRITE MEMORY
// exchange for the same page until it succeeds.
func (s *Session) writePage(ctx context.Context, p *ihex.Page) error {
	s.logDebug("writing page",
		"address", fmt.Sprintf("0x%08X", p.Address),
		"length", p.Length,
	)

	payload, err := protocol.WritePayload(p.Data())
	if err != nil {
		return err
	}

	err = s.retry(ctx, "write memory", p.Address, true, func() error {
		if err := s.link.SendCommand(ctx, s.table.WriteMemory()); err != nil {
			return err
		}
		if err := s.link.SendFrame(ctx, protocol.AddressPayload(p.Address)); err != nil {
			return &protocol.ProtocolError{Operation: "write memory address", Err: err}
		}
		if err := s.link.SendFrame(ctx, payload); err != nil {
			return &protocol.ProtocolError{Operation: "write memory data", Err: err}
		}

		if s.config.Verify {
			return s.verifyPage(ctx, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.progress.Address = p.Address
	s.progress.PagesWritten++
	s.progress.BytesWritten += p.Length
	s.emit(PhaseProgramming, fmt.Sprintf("wrote 0x%08X (%d bytes)", p.Address, p.Length))

	return nil
}

func (s *Session) verifyPage(ctx context.Context, p *ihex.Page) error {
	got, err := s.readMemory(ctx, p.Address, p.Length)
	if err != nil {
		return err
	}

	for i, want := range p.Data() {
		if got[i] != want {
			return &VerificationError{
				Address:  p.Address,
				Offset:   i,
				Expected: want,
				Actual:   got[i],
			}
		}
	}

	return nil
}

// ReadMemory reads n bytes (1 to 256) starting at addr.
// Returns an error wrapping ErrReadoutProtected if the device refuses the command.
//
// Example:
//
//	if err := sess.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	uid, err := sess.ReadMemory(ctx, 0x1FFFF7E8, 12)
func (s *Session) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	data, err := s.readMemory(ctx, addr, n)

	var perr *protocol.ProtocolError
	if errors.As(err, &perr) && perr.Operation == opReadMemory && protocol.IsNack(perr.Err) {
		return nil, fmt.Errorf("%w: %v", ErrReadoutProtected, perr.Err)
	}
	return data, err
}

const opReadMemory = "read memory"

// readMemory performs one READ MEMORY exchange. A refused command is an
// ordinary ProtocolError here; only ReadMemory treats it as readout protection.
func (s *Session) readMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if s.table == nil {
		return nil, ErrNotConnected
	}

	length, err := protocol.ReadLengthPayload(n)
	if err != nil {
		return nil, err
	}

	if err := s.link.Command(ctx, s.table.ReadMemory()); err != nil {
		return nil, &protocol.ProtocolError{Operation: opReadMemory, Err: err}
	}
	if err := s.link.SendFrame(ctx, protocol.AddressPayload(addr)); err != nil {
		return nil, &protocol.ProtocolError{Operation: "read memory address", Err: err}
	}
	if err := s.link.SendFrame(ctx, length); err != nil {
		return nil, &protocol.ProtocolError{Operation: "read memory length", Err: err}
	}

	return s.link.ReadBytes(n)
}

// Go starts execution at addr. The bootloader hands over control and stops
// answering, so it is the last command of a session.
func (s *Session) Go(ctx context.Context, addr uint32) error {
	if s.table == nil {
		return ErrNotConnected
	}

	return s.retry(ctx, "go", addr, true, func() error {
		if err := s.link.SendCommand(ctx, s.table.Go()); err != nil {
			return err
		}
		if err := s.link.SendFrame(ctx, protocol.AddressPayload(addr)); err != nil {
			return &protocol.ProtocolError{Operation: "go address", Err: err}
		}
		return nil
	})
}

// retry runs fn until it succeeds or StepAttempts is exhausted. Stale input
// is flushed before each new attempt. Cancellation and readout protection stop
// the loop immediately.
func (s *Session) retry(ctx context.Context, step string, addr uint32, hasAddr bool, fn func() error) error {
	var err error
	attempt := 0

	for s.config.StepAttempts == 0 || attempt < s.config.StepAttempts {
		attempt++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("cancelled: %w", ctxErr)
		}

		if attempt > 1 {
			if ferr := s.ch.Flush(); ferr != nil {
				s.logError("flush failed", "error", ferr)
			}
		}

		if err = fn(); err == nil {
			return nil
		}

		if errors.Is(err, ErrReadoutProtected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		kv := []interface{}{"step", step, "attempt", attempt, "error", err}
		if hasAddr {
			kv = append(kv, "address", fmt.Sprintf("0x%08X", addr))
		}
		s.logError("step failed", kv...)
	}

	return &StepError{
		Step:       step,
		Address:    addr,
		HasAddress: hasAddr,
		Attempts:   attempt,
		Err:        err,
	}
}

func loadFirmware(r io.Reader) (*firmware, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	fw := &firmware{hex: data}
	c := ihex.NewCoalescer(func(p *ihex.Page) error {
		fw.size += p.Length
		return nil
	})

	fw.entry, fw.hasEntry, err = ihex.Stream(bytes.NewReader(data), c)
	if err != nil {
		return nil, err
	}
	fw.pages = c.Pages()

	return fw, nil
}

// State returns the current state of the session.
func (s *Session) State() State {
	return s.state
}

// CommandTable returns the table read by GET, or nil before the handshake.
func (s *Session) CommandTable() *protocol.CommandTable {
	return s.table
}

// DeviceID returns the ID read by GET ID.
func (s *Session) DeviceID() protocol.DeviceID {
	return s.id
}

// FlashSizeKB returns the flash size read from the device, in KB.
func (s *Session) FlashSizeKB() uint16 {
	return s.flashKB
}

// BootloaderVersion returns the bootloader version as major.minor.
func (s *Session) BootloaderVersion() string {
	if s.table == nil {
		return ""
	}
	return s.table.VersionString()
}

// emit calls the progress callback if configured.
func (s *Session) emit(phase, msg string) {
	s.progress.Phase = phase
	s.progress.Message = msg
	s.progress.Percentage = s.percentage(phase)
	if !s.start.IsZero() {
		s.progress.ElapsedTime = time.Since(s.start)
	}

	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(s.progress)
	}
}

// report logs msg at info level and emits it as progress.
func (s *Session) report(phase, msg string, keysAndValues ...interface{}) {
	s.logInfo(msg, keysAndValues...)
	s.emit(phase, msg)
}

// percentage maps a phase onto the overall completion: programming spans 10% to 95%.
func (s *Session) percentage(phase string) float64 {
	switch phase {
	case PhaseConnecting:
		return 0
	case PhaseIdentifying, PhaseUnprotecting:
		return 2
	case PhaseErasing:
		return 5
	case PhaseProgramming:
		if s.progress.TotalBytes == 0 {
			return 10
		}
		return 10 + float64(s.progress.BytesWritten)/float64(s.progress.TotalBytes)*85
	case PhaseJumping:
		return 97
	default:
		return 100
	}
}

// logDebug logs a debug message if a logger is configured.
func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}
