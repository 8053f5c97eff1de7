package syncx

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{
		Ms:  1756000000000,
		UID: uuid.MustParse("5e0c9f2a-41d3-4b8e-9c77-2f1a6d0b3e54"),
	}

	encoded := EncodeCursor(original)
	if encoded == "" {
		t.Fatal("EncodeCursor() returned empty for a non-zero cursor")
	}

	decoded, valid := DecodeCursor(encoded)
	if !valid {
		t.Fatal("DecodeCursor() rejected its own encoding")
	}
	if decoded.Ms != original.Ms || decoded.UID != original.UID {
		t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestEncodeCursor_ZeroValueIsEmpty(t *testing.T) {
	if got := EncodeCursor(Cursor{}); got != "" {
		t.Errorf("Expected empty string for zero cursor, got %q", got)
	}
}

func TestDecodeCursor_RejectsMalformed(t *testing.T) {
	raw := func(s string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(s))
	}

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty string", ""},
		{"not base64", "not-base64!!!"},
		{"no separator", raw("1234567890")},
		{"bad timestamp", raw("abc|5e0c9f2a-41d3-4b8e-9c77-2f1a6d0b3e54")},
		{"bad uuid", raw("123456|not-a-uuid")},
		{"extra fields", raw("123|456|5e0c9f2a-41d3-4b8e-9c77-2f1a6d0b3e54")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, valid := DecodeCursor(tt.encoded); valid {
				t.Errorf("Expected %q to be rejected", tt.encoded)
			}
		})
	}
}

func TestRFC3339(t *testing.T) {
	if got := RFC3339(0); got != "1970-01-01T00:00:00Z" {
		t.Errorf("RFC3339(0) = %q", got)
	}
	if got := RFC3339(1756000000123); got != "2025-08-24T01:46:40.123Z" {
		t.Errorf("RFC3339(1756000000123) = %q", got)
	}
}
