package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "conversation ID format",
			prefix:     "conv_",
			hexLength:  16,
			wantPrefix: "conv_",
			wantLength: 21, // 5 + 16
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  32,
			wantPrefix: "test_",
			wantLength: 37, // 5 + 32
		},
		{
			name:       "empty prefix",
			prefix:     "",
			hexLength:  8,
			wantPrefix: "",
			wantLength: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			hexPart := got[len(tt.prefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"standard length", 16, 16},
		{"zero length", 0, 0},
		{"negative length", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateConversationID(t *testing.T) {
	got := GenerateConversationID()

	if !strings.HasPrefix(got, "conv_") {
		t.Errorf("GenerateConversationID() = %v, want prefix conv_", got)
	}

	if len(got) != 21 { // "conv_" + 16 hex chars
		t.Errorf("GenerateConversationID() length = %v, want 21", len(got))
	}
}

func TestGenerateConversationID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateConversationID()
		if seen[id] {
			t.Fatalf("GenerateConversationID() produced duplicate %v", id)
		}
		seen[id] = true
	}
}

// isValidHex checks if a string contains only lowercase hexadecimal characters.
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
