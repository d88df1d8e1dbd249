package protocol

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty payload",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "GET command",
			data:     []byte{0x00},
			expected: 0xFF,
		},
		{
			name:     "WRITE MEMORY command",
			data:     []byte{0x31},
			expected: 0xCE,
		},
		{
			name:     "read length N-1 = 1",
			data:     []byte{0x01},
			expected: 0xFE,
		},
		{
			name:     "legacy global erase",
			data:     []byte{0xFF},
			expected: 0x00,
		},
		{
			name:     "mass erase",
			data:     []byte{0xFF, 0xFF},
			expected: 0x00,
		},
		{
			name:     "flash size register address",
			data:     []byte{0x1F, 0xFF, 0xF7, 0xE0},
			expected: 0x1F ^ 0xFF ^ 0xF7 ^ 0xE0,
		},
		{
			name:     "flash base address",
			data:     []byte{0x08, 0x00, 0x00, 0x00},
			expected: 0x08,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Checksum(tt.data)
			if result != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", result, tt.expected)
			}
		})
	}
}

func TestChecksumSingleByteRule(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if got := Checksum([]byte{b}); got != 0xFF^b {
			t.Fatalf("Checksum([0x%02X]) = 0x%02X, want 0x%02X", b, got, 0xFF^b)
		}
	}
}

func TestChecksumXORFold(t *testing.T) {
	payload := make([]byte, 0, 257)
	for i := 0; i < 257; i++ {
		payload = append(payload, byte(i*7+3))

		if len(payload) < 2 {
			continue
		}

		var want byte
		for _, b := range payload {
			want ^= b
		}
		if got := Checksum(payload); got != want {
			t.Fatalf("Checksum(len=%d) = 0x%02X, want 0x%02X", len(payload), got, want)
		}
	}
}

func TestValidFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{name: "command", frame: []byte{0x44, 0xBB}, want: true},
		{name: "bad complement", frame: []byte{0x44, 0x44}, want: false},
		{name: "address", frame: BuildFrame([]byte{0x08, 0x00, 0x10, 0x00}), want: true},
		{name: "corrupted address", frame: []byte{0x08, 0x00, 0x10, 0x00, 0x00}, want: false},
		{name: "too short", frame: []byte{0x79}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidFrame(tt.frame); got != tt.want {
				t.Errorf("ValidFrame(% X) = %v, want %v", tt.frame, got, tt.want)
			}
		})
	}
}
