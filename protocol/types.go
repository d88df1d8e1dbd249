package protocol

import "fmt"

// CommandTable is the set of opcodes reported by the GET command.
// Positions are fixed by the protocol; the opcodes themselves may differ
// between bootloader versions (for example ERASE vs EXTENDED ERASE).
type CommandTable struct {
	// Version is the bootloader version byte (0x31 = 3.1)
	Version byte

	// Opcodes are the supported commands in protocol order
	Opcodes []byte
}

// ParseCommandTable builds a CommandTable from the GET response body.
// Opcodes past the standard set (GET CHECKSUM and others on newer
// bootloaders) are kept but not addressed by position. The opcodes slice
// is copied.
func ParseCommandTable(version byte, opcodes []byte) (*CommandTable, error) {
	if len(opcodes) < MinCommandTableSize {
		return nil, fmt.Errorf("command table too short: got %d opcodes, minimum is %d", len(opcodes), MinCommandTableSize)
	}

	table := &CommandTable{
		Version: version,
		Opcodes: make([]byte, len(opcodes)),
	}
	copy(table.Opcodes, opcodes)

	return table, nil
}

// DefaultCommandTable returns the table reported by a v3.1 bootloader with extended erase.
func DefaultCommandTable() *CommandTable {
	return &CommandTable{
		Version: 0x31,
		Opcodes: []byte{
			CmdGet, CmdGetVersion, CmdGetID, CmdReadMemory, CmdGo, CmdWriteMemory,
			CmdExtendedErase, CmdWriteProtect, CmdWriteUnprotect, CmdReadoutProtect, CmdReadoutUnprotect,
		},
	}
}

// VersionString formats the version byte as major.minor.
func (t *CommandTable) VersionString() string {
	return fmt.Sprintf("%d.%d", t.Version>>4, t.Version&0x0F)
}

func (t *CommandTable) Get() byte              { return t.Opcodes[indexGet] }
func (t *CommandTable) GetVersion() byte       { return t.Opcodes[indexGetVersion] }
func (t *CommandTable) GetID() byte            { return t.Opcodes[indexGetID] }
func (t *CommandTable) ReadMemory() byte       { return t.Opcodes[indexReadMemory] }
func (t *CommandTable) Go() byte               { return t.Opcodes[indexGo] }
func (t *CommandTable) WriteMemory() byte      { return t.Opcodes[indexWriteMemory] }
func (t *CommandTable) Erase() byte            { return t.Opcodes[indexErase] }
func (t *CommandTable) WriteProtect() byte     { return t.Opcodes[indexWriteProtect] }
func (t *CommandTable) WriteUnprotect() byte   { return t.Opcodes[indexWriteUnprotect] }
func (t *CommandTable) ReadoutProtect() byte   { return t.Opcodes[indexReadoutProtect] }
func (t *CommandTable) ReadoutUnprotect() byte { return t.Opcodes[indexReadoutUnprotect] }

// ExtendedErase reports whether the device uses the two-byte EXTENDED ERASE command.
func (t *CommandTable) ExtendedErase() bool {
	return t.Erase() == CmdExtendedErase
}

// DeviceID contains the chip identification returned by GET ID.
type DeviceID struct {
	// Raw holds all ID bytes as sent (MSB first)
	Raw []byte
}

// ProductID returns the ID as a number (0x0410 for medium-density F1 parts).
func (d DeviceID) ProductID() uint32 {
	var id uint32
	for _, b := range d.Raw {
		id = id<<8 | uint32(b)
	}
	return id
}

func (d DeviceID) String() string {
	return fmt.Sprintf("0x%X", d.Raw)
}
