// Package codec converts intercepted payloads between raw bytes and the two
// presentation encodings an operator edits: UTF-8 text and space-separated
// uppercase hex.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrOddLength is returned by ParseHex when the input (after stripping
	// separators) does not contain a whole number of bytes.
	ErrOddLength = errors.New("hex input has odd length")

	// ErrInvalidHex is returned by ParseHex for a non-hex digit.
	ErrInvalidHex = errors.New("invalid hex digit")

	// ErrInvalidUTF8 is returned by DecodeText when the payload is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")
)

// ViewMode selects how a payload is presented to the operator.
type ViewMode int

const (
	Text ViewMode = iota
	Hex
)

func (m ViewMode) String() string {
	switch m {
	case Text:
		return "text"
	case Hex:
		return "hex"
	default:
		return fmt.Sprintf("ViewMode(%d)", int(m))
	}
}

// ParseViewMode accepts "text" or "hex", case-insensitively.
func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return Text, nil
	case "hex":
		return Hex, nil
	}
	return Text, fmt.Errorf("unknown view mode %q (want text or hex)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m ViewMode) MarshalText() ([]byte, error) {
	if m != Text && m != Hex {
		return nil, fmt.Errorf("unknown view mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ViewMode) UnmarshalText(b []byte) error {
	v, err := ParseViewMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

const hexDigits = "0123456789ABCDEF"

// RenderHex renders b as uppercase hex pairs separated by single spaces,
// e.g. "DE AD BE EF". An empty slice renders as "".
func RenderHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// ParseHex is the inverse of RenderHex. Spaces and hyphens are ignored;
// every remaining pair of characters must be a hex byte.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(s)
	if len(clean)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(clean)/2)
	for i := range out {
		hi, ok1 := fromHexChar(clean[2*i])
		lo, ok2 := fromHexChar(clean[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w %q at byte %d", ErrInvalidHex, clean[2*i:2*i+2], i)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeText returns b as a string if it is valid UTF-8.
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// EncodeText returns the UTF-8 bytes of s.
func EncodeText(s string) []byte {
	return []byte(s)
}

// Render presents b in the given mode. In Text mode a payload that is not
// valid UTF-8 is rendered as hex instead, and the decode error is returned
// alongside so the caller can report it. The returned string is always usable.
func Render(b []byte, mode ViewMode) (string, error) {
	if mode == Hex {
		return RenderHex(b), nil
	}
	s, err := DecodeText(b)
	if err != nil {
		return RenderHex(b), err
	}
	return s, nil
}

// Parse converts operator-entered text back into bytes according to mode.
func Parse(s string, mode ViewMode) ([]byte, error) {
	if mode == Hex {
		return ParseHex(s)
	}
	return EncodeText(s), nil
}

// HistoryString renders b for the traffic history. Valid UTF-8 without control
// characters (other than CR, LF and TAB) is kept as text; anything else is
// rendered as hex so history stays readable.
func HistoryString(b []byte) string {
	if !IsPrintable(b) {
		return RenderHex(b)
	}
	return string(b)
}

// IsPrintable reports whether b is valid UTF-8 free of control characters
// other than CR, LF and TAB.
func IsPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if unicode.IsControl(r) && r != '\r' && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

// DescribeSize returns a short human description of the size of s,
// e.g. "12 bytes", "3.4 KB".
func DescribeSize(s string) string {
	n := len(s)
	switch {
	case n < 1024:
		return fmt.Sprintf("%d bytes", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
