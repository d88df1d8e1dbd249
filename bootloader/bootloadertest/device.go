// Package bootloadertest provides a simulated STM32 ISP bootloader for tests
// and demos. Device implements bootloader.Channel and answers the AN3155
// exchange the way a real part does: it validates every checksum, keeps a
// flash map and can be scripted to NACK chosen frames.
package bootloadertest

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/moffa90/go-stmisp/protocol"
)

// ErrNoResponse is returned by ReadByte when the device has nothing to send.
var ErrNoResponse = errors.New("no response from device")

// Stage names a point of the exchange where a NACK can be injected.
type Stage string

const (
	StageProbe        Stage = "probe"
	StageCommand      Stage = "command"
	StageReadCommand  Stage = "read command"
	StageReadAddress  Stage = "read address"
	StageReadLength   Stage = "read length"
	StageWriteAddress Stage = "write address"
	StageWriteData    Stage = "write data"
	StageErase        Stage = "erase"
	StageGoAddress    Stage = "go address"
	StageUnprotect    Stage = "readout unprotect"
)

// Device is a simulated STM32 ISP bootloader.
//
// Device is not safe for concurrent use.
type Device struct {
	// Table is reported by GET; its opcodes select the commands understood
	Table *protocol.CommandTable

	// ID is the GET ID body (N+1 bytes)
	ID []byte

	// FlashSizeKB is served from FlashSizeAddress
	FlashSizeKB      uint16
	FlashSizeAddress uint32

	// Protected makes READ, WRITE and ERASE fail until readout unprotect
	Protected bool

	// Synced is set once the 0x7F probe locked the baud rate
	Synced bool

	// Mute drops every byte received
	Mute bool

	// Latency is slept on every Write
	Latency time.Duration

	// Flash holds programmed bytes; absent addresses read as 0xFF
	Flash map[uint32]byte

	// Observations
	Received           []byte
	Commands           []byte
	Probes             int
	WriteAddressFrames int
	Writes             int
	Erases             int
	Unprotects         int
	BadChecksums       int
	Flushes            int
	EvenParity         bool
	Jumped             bool
	JumpAddress        uint32

	nacks   map[Stage]int
	corrupt int

	stage stage
	in    []byte
	out   []byte
	addr  uint32
}

type stage int

const (
	stageCommand stage = iota
	stageReadAddress
	stageReadLength
	stageWriteAddress
	stageWriteData
	stageErase
	stageGoAddress
)

// NewDevice returns an unprotected 64KB STM32F1 (product ID 0x410) with a
// v3.1 bootloader supporting extended erase.
func NewDevice() *Device {
	return &Device{
		Table:            protocol.DefaultCommandTable(),
		ID:               []byte{0x04, 0x10},
		FlashSizeKB:      64,
		FlashSizeAddress: protocol.FlashSizeRegister,
		Flash:            make(map[uint32]byte),
		nacks:            make(map[Stage]int),
	}
}

// NackNext makes the device NACK the next n frames received at stage.
func (d *Device) NackNext(st Stage, n int) {
	if d.nacks == nil {
		d.nacks = make(map[Stage]int)
	}
	d.nacks[st] += n
}

// CorruptNextWrites flips the first byte of the next n pages written.
func (d *Device) CorruptNextWrites(n int) {
	d.corrupt += n
}

// Memory returns n bytes of flash starting at addr.
func (d *Device) Memory(addr uint32, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = d.read(addr + uint32(i))
	}
	return buf
}

// Write feeds host bytes into the simulated bootloader.
func (d *Device) Write(p []byte) (int, error) {
	if d.Latency > 0 {
		time.Sleep(d.Latency)
	}

	d.Received = append(d.Received, p...)
	for _, b := range p {
		d.feed(b)
	}
	return len(p), nil
}

// ReadByte returns the next response byte.
func (d *Device) ReadByte() (byte, error) {
	if len(d.out) == 0 {
		return 0, ErrNoResponse
	}
	b := d.out[0]
	d.out = d.out[1:]
	return b, nil
}

// Available reports whether a response byte is pending.
func (d *Device) Available() bool {
	return len(d.out) > 0
}

// Flush drops pending response bytes.
func (d *Device) Flush() error {
	d.Flushes++
	d.out = nil
	return nil
}

// SetEvenParity records the parity switch.
func (d *Device) SetEvenParity() error {
	d.EvenParity = true
	return nil
}

func (d *Device) feed(b byte) {
	if d.Mute {
		return
	}

	if !d.Synced {
		// Before synchronisation everything but the probe is line noise.
		if b == protocol.Probe {
			d.Probes++
			if d.takeNack(StageProbe) {
				// Still resetting: rejected and not synchronised.
				d.reply(protocol.Nack)
				return
			}
			d.Synced = true
			d.reply(protocol.Ack)
		}
		return
	}

	if d.stage == stageCommand && len(d.in) == 0 && b == protocol.Probe {
		d.Probes++
		d.reply(protocol.Nack)
		return
	}

	d.in = append(d.in, b)
	if len(d.in) < d.need() {
		return
	}

	frame := d.in
	d.in = nil
	d.handle(frame)
}

// need returns the length of the frame expected in the current stage.
func (d *Device) need() int {
	switch d.stage {
	case stageReadAddress, stageWriteAddress, stageGoAddress:
		return protocol.AddressSize + 1
	case stageReadLength:
		return 2
	case stageWriteData:
		if len(d.in) == 0 {
			return 1
		}
		return int(d.in[0]) + 3
	case stageErase:
		if d.Table.ExtendedErase() {
			if len(d.in) < 2 {
				return 2
			}
			n := binary.BigEndian.Uint16(d.in)
			if n >= 0xFFF0 {
				return 3
			}
			return (int(n)+1)*2 + 3
		}
		if len(d.in) == 0 || d.in[0] == 0xFF {
			return 2
		}
		return int(d.in[0]) + 3
	default:
		return 2
	}
}

func (d *Device) handle(frame []byte) {
	switch d.stage {
	case stageCommand:
		if !protocol.ValidFrame(frame) {
			d.BadChecksums++
			d.reply(protocol.Nack)
			return
		}
		d.Commands = append(d.Commands, frame[0])
		if d.takeNack(StageCommand) {
			d.reply(protocol.Nack)
			return
		}
		d.command(frame[0])

	case stageReadAddress:
		if !d.accept(frame, StageReadAddress) {
			return
		}
		d.addr = binary.BigEndian.Uint32(frame)
		d.next(stageReadLength)

	case stageReadLength:
		if !d.accept(frame, StageReadLength) {
			return
		}
		d.reply(protocol.Ack)
		d.out = append(d.out, d.Memory(d.addr, int(frame[0])+1)...)
		d.stage = stageCommand

	case stageWriteAddress:
		d.WriteAddressFrames++
		if !d.accept(frame, StageWriteAddress) {
			return
		}
		d.addr = binary.BigEndian.Uint32(frame)
		d.next(stageWriteData)

	case stageWriteData:
		if !d.accept(frame, StageWriteData) {
			return
		}
		data := frame[1 : len(frame)-1]
		for i, b := range data {
			if i == 0 && d.corrupt > 0 {
				b = ^b
				d.corrupt--
			}
			d.Flash[d.addr+uint32(i)] = b
		}
		d.Writes++
		d.next(stageCommand)

	case stageErase:
		if !d.accept(frame, StageErase) {
			return
		}
		if !d.massErase(frame) {
			d.reply(protocol.Nack)
			d.stage = stageCommand
			return
		}
		d.Flash = make(map[uint32]byte)
		d.Erases++
		d.next(stageCommand)

	case stageGoAddress:
		if !d.accept(frame, StageGoAddress) {
			return
		}
		d.Jumped = true
		d.JumpAddress = binary.BigEndian.Uint32(frame)
		d.next(stageCommand)
	}
}

func (d *Device) command(op byte) {
	t := d.Table

	switch op {
	case t.Get():
		d.reply(protocol.Ack)
		d.out = append(d.out, byte(len(t.Opcodes)), t.Version)
		d.out = append(d.out, t.Opcodes...)
		d.reply(protocol.Ack)

	case t.GetVersion():
		d.reply(protocol.Ack)
		d.out = append(d.out, t.Version, 0x00, 0x00)
		d.reply(protocol.Ack)

	case t.GetID():
		d.reply(protocol.Ack)
		d.out = append(d.out, byte(len(d.ID)-1))
		d.out = append(d.out, d.ID...)
		d.reply(protocol.Ack)

	case t.ReadMemory():
		if d.takeNack(StageReadCommand) {
			d.reply(protocol.Nack)
			return
		}
		d.guarded(stageReadAddress)

	case t.WriteMemory():
		d.guarded(stageWriteAddress)

	case t.Erase():
		d.guarded(stageErase)

	case t.Go():
		d.next(stageGoAddress)

	case t.ReadoutUnprotect():
		if d.takeNack(StageUnprotect) {
			d.reply(protocol.Nack)
			return
		}
		d.reply(protocol.Ack)
		d.Unprotects++
		d.Protected = false
		d.Flash = make(map[uint32]byte)
		d.reply(protocol.Ack)
		// System reset: the next exchange starts with a probe.
		d.Synced = false

	default:
		d.reply(protocol.Nack)
	}
}

// guarded enters st unless readout protection is active.
func (d *Device) guarded(st stage) {
	if d.Protected {
		d.reply(protocol.Nack)
		return
	}
	d.next(st)
}

// accept validates a frame for stage, answering NACK and returning to the
// command stage when it is rejected.
func (d *Device) accept(frame []byte, st Stage) bool {
	if !protocol.ValidFrame(frame) {
		d.BadChecksums++
		d.reply(protocol.Nack)
		d.stage = stageCommand
		return false
	}
	if d.takeNack(st) {
		d.reply(protocol.Nack)
		d.stage = stageCommand
		return false
	}
	return true
}

func (d *Device) massErase(frame []byte) bool {
	if d.Table.ExtendedErase() {
		return len(frame) == 3 && frame[0] == 0xFF && frame[1] == 0xFF
	}
	return len(frame) == 2 && frame[0] == 0xFF
}

func (d *Device) takeNack(st Stage) bool {
	if d.nacks[st] > 0 {
		d.nacks[st]--
		return true
	}
	return false
}

func (d *Device) next(st stage) {
	d.reply(protocol.Ack)
	d.stage = st
}

func (d *Device) reply(b byte) {
	d.out = append(d.out, b)
}

func (d *Device) read(addr uint32) byte {
	switch addr {
	case d.FlashSizeAddress:
		return byte(d.FlashSizeKB)
	case d.FlashSizeAddress + 1:
		return byte(d.FlashSizeKB >> 8)
	}
	if b, ok := d.Flash[addr]; ok {
		return b
	}
	return 0xFF
}
