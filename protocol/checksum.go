package protocol

// Checksum computes the checksum byte that terminates a frame.
//
// A multi-byte payload is protected by the XOR of all its bytes. A single byte
// is sent together with its complement, so the checksum is 0xFF XOR the byte.
// This covers both command selection (opcode, ^opcode) and one-byte data
// frames such as the READ MEMORY length or the legacy global erase code.
func Checksum(payload []byte) byte {
	if len(payload) == 1 {
		return 0xFF ^ payload[0]
	}

	var ck byte
	for _, b := range payload {
		ck ^= b
	}
	return ck
}

// ValidFrame reports whether frame ends with the checksum of the bytes before it.
// Used by device simulators to validate what the host sends.
func ValidFrame(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	payload := frame[:len(frame)-1]
	return Checksum(payload) == frame[len(frame)-1]
}
