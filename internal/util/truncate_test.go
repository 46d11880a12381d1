package util

import "testing"

func TestTruncateLog(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short stays whole", "short log", 100, "short log"},
		{"exact limit stays whole", "12345678901234567890", 20, "12345678901234567890"},
		{"over limit gets marker", "1234567890abcdefghij", 10, "1234567890... [truncated, 20 bytes total]"},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateLog(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateLog(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateBytesKeepsPrefix(t *testing.T) {
	input := make([]byte, 2*DefaultLogMaxLen)
	for i := range input {
		input[i] = 'x'
	}
	got := TruncateBytes(input)
	if len(got) <= DefaultLogMaxLen {
		t.Fatalf("truncation marker missing, len = %d", len(got))
	}
	if got[:DefaultLogMaxLen] != string(input[:DefaultLogMaxLen]) {
		t.Error("leading bytes were not preserved")
	}

	if short := TruncateBytes([]byte("tiny")); short != "tiny" {
		t.Errorf("short body altered: %q", short)
	}
}
