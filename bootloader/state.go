package bootloader

import "fmt"

// State is the position of a Session in the flashing sequence.
type State int

const (
	// StateDisconnected is the initial state; no byte has been exchanged
	StateDisconnected State = iota

	// StateHandshaking probes the bootloader and reads its command set
	StateHandshaking

	// StateIdentified has the command table and device ID
	StateIdentified

	// StateFlashSizeKnown has read the flash size register
	StateFlashSizeKnown

	// StateErased has mass erased the flash
	StateErased

	// StateProgramming is writing pages
	StateProgramming

	// StateJumped has started the programmed firmware with GO
	StateJumped

	// StateComplete finished programming an image without a start address
	StateComplete

	// StateFailed ran out of retries on a step
	StateFailed
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateHandshaking:    "handshaking",
	StateIdentified:     "identified",
	StateFlashSizeKnown: "flash size known",
	StateErased:         "erased",
	StateProgramming:    "programming",
	StateJumped:         "jumped",
	StateComplete:       "complete",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Done reports whether the session has nothing left to do.
func (s State) Done() bool {
	return s == StateJumped || s == StateComplete || s == StateFailed
}
