package protocol

// ProtocolVersion is the AN3155 USART bootloader protocol revision implemented by this library.
const ProtocolVersion = "3.1"

// Response bytes per AN3155 section 2.
const (
	// Ack is sent by the bootloader when a command or frame is accepted (0x79)
	Ack = 0x79

	// Nack is sent by the bootloader when a command or frame is rejected (0x1F)
	Nack = 0x1F

	// Probe is the auto-baud synchronisation byte sent once after reset (0x7F)
	Probe = 0x7F
)

// Default command opcodes per AN3155 section 3.
// The device reports its own opcodes in the GET response; these values are
// only used to build a table and in tests.
const (
	// CmdGet gets the bootloader version and the allowed commands
	CmdGet = 0x00

	// CmdGetVersion gets the bootloader version and read protection status
	CmdGetVersion = 0x01

	// CmdGetID gets the chip ID
	CmdGetID = 0x02

	// CmdReadMemory reads up to 256 bytes starting at an address
	CmdReadMemory = 0x11

	// CmdGo jumps to user application code
	CmdGo = 0x21

	// CmdWriteMemory writes up to 256 bytes starting at an address
	CmdWriteMemory = 0x31

	// CmdErase erases flash pages (legacy, one-byte page numbers)
	CmdErase = 0x43

	// CmdExtendedErase erases flash pages using two-byte addressing
	CmdExtendedErase = 0x44

	// CmdWriteProtect enables write protection for some sectors
	CmdWriteProtect = 0x63

	// CmdWriteUnprotect disables write protection for all sectors
	CmdWriteUnprotect = 0x73

	// CmdReadoutProtect enables read protection
	CmdReadoutProtect = 0x82

	// CmdReadoutUnprotect disables read protection (mass erases the flash)
	CmdReadoutUnprotect = 0x92
)

// Command table positions in the GET response, after the version byte.
const (
	indexGet = iota
	indexGetVersion
	indexGetID
	indexReadMemory
	indexGo
	indexWriteMemory
	indexErase
	indexWriteProtect
	indexWriteUnprotect
	indexReadoutProtect
	indexReadoutUnprotect

	// MinCommandTableSize is the number of opcodes every bootloader reports
	MinCommandTableSize
)

// Memory and transfer limits.
const (
	// MaxTransferSize is the maximum payload of a single READ or WRITE MEMORY command
	MaxTransferSize = 256

	// AddressSize is the size of an address frame payload
	AddressSize = 4

	// FlashSizeRegister holds the flash size in KB on STM32F1 devices
	FlashSizeRegister = 0x1FFFF7E0

	// FlashBase is the start of main flash on every STM32
	FlashBase = 0x08000000
)

// Mass erase payloads.
var (
	// MassErase is the extended erase special code for a full mass erase (0xFFFF)
	MassErase = []byte{0xFF, 0xFF}

	// GlobalErase is the legacy erase page count selecting a global erase (0xFF)
	GlobalErase = []byte{0xFF}
)
