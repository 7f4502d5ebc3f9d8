package secret

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

const redacted = "[REDACTED]"

// String holds sensitive plaintext. The zero value is an empty secret.
type String struct {
	b []byte
}

// New copies s into a new secret.
func New(s string) String {
	if s == "" {
		return String{}
	}
	return String{b: []byte(s)}
}

// Expose returns the plaintext.
func (s String) Expose() string { return string(s.b) }

// Bytes returns a copy of the plaintext.
func (s String) Bytes() []byte {
	if len(s.b) == 0 {
		return nil
	}
	out := make([]byte, len(s.b))
	copy(out, s.b)
	return out
}

// Len returns the plaintext length in bytes.
func (s String) Len() int { return len(s.b) }

// IsZero reports whether the secret is empty.
func (s String) IsZero() bool { return len(s.b) == 0 }

// Wipe zeroes the backing buffer. Copies made with New from the same input
// are independent and must be wiped separately.
func (s *String) Wipe() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

func (String) String() string   { return redacted }
func (String) GoString() string { return redacted }

// Format implements fmt.Formatter so that no verb (including %x and %q)
// can reach the plaintext.
func (String) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

// LogValue implements slog.LogValuer.
func (String) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON always emits the redaction marker.
func (String) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// UnmarshalJSON accepts a JSON string (or null) so request payloads can carry
// secrets without an intermediate plain string field.
func (s *String) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.b = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("secret: expected JSON string")
	}
	*s = New(raw)
	return nil
}
