// Package protocol implements the STM32 USART bootloader wire format (ST AN3155).
//
// This package builds the byte sequences the host sends and decodes the small
// fixed responses the bootloader returns. It performs no I/O; see package
// bootloader for the link and session logic.
//
// # Protocol Overview
//
// Every exchange is a frame followed by one acknowledgement byte:
//
//	Command:  [OPCODE][0xFF ^ OPCODE]          -> ACK (0x79) / NACK (0x1F)
//	Frame:    [PAYLOAD...][XOR(PAYLOAD)]       -> ACK / NACK
//	Byte:     [B][0xFF ^ B]                    -> ACK / NACK
//
// Where:
//   - single-byte payloads use the complement rule (see Checksum)
//   - addresses are 4 bytes, MSB first
//   - WRITE MEMORY data is prefixed with its length minus one
//
// # Frame Builders
//
//	frame := protocol.BuildCommandFrame(table.WriteMemory())
//	frame  = protocol.BuildFrame(protocol.AddressPayload(0x08000000))
//	payload, err := protocol.WritePayload(page)
//
// # Response Parsers
//
//	table, err := protocol.ParseCommandTable(version, opcodes)
//	id, err := protocol.ParseDeviceID(raw)
//	kb, err := protocol.ParseFlashSize(raw)
//
// # Error Handling
//
// ErrNack, ErrTimeout and UnexpectedResponseError describe link failures.
// An UnexpectedResponseError also matches ErrNack with errors.Is, since a
// garbage byte and a NACK are handled the same way: redo the step.
//
// # Reference
//
// AN3155 Application note: USART protocol used in the STM32 bootloader.
// AN2606 Application note: STM32 microcontroller system memory boot mode.
package protocol
