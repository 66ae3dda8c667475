package codec_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/matgreaves/intercept/codec"
	"github.com/matryer/is"
)

func TestRenderHex(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{0x00}, "00"},
		{[]byte{0xde, 0xad}, "DE AD"},
		{[]byte("hi"), "68 69"},
		{[]byte{0x0f, 0xf0, 0x7a}, "0F F0 7A"},
	}
	for _, tt := range tests {
		if got := codec.RenderHex(tt.in); got != tt.want {
			t.Errorf("RenderHex(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseHex(t *testing.T) {
	is := is.New(t)

	b, err := codec.ParseHex("DE AD")
	is.NoErr(err)
	is.Equal(b, []byte{0xde, 0xad})

	b, err = codec.ParseHex("de-ad-be-ef")
	is.NoErr(err)
	is.Equal(b, []byte{0xde, 0xad, 0xbe, 0xef})

	b, err = codec.ParseHex("")
	is.NoErr(err)
	is.Equal(len(b), 0)

	_, err = codec.ParseHex("ABC")
	is.True(errors.Is(err, codec.ErrOddLength))

	_, err = codec.ParseHex("ZZ 00")
	is.True(errors.Is(err, codec.ErrInvalidHex))
}

// ParseHex(RenderHex(b)) must reproduce b exactly for arbitrary payloads.
func TestHexRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		b := make([]byte, rng.Intn(64))
		rng.Read(b)
		got, err := codec.ParseHex(codec.RenderHex(b))
		if err != nil {
			t.Fatalf("round trip %x: %v", b, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("round trip mismatch: got %x, want %x", got, b)
		}
	}
}

func TestRender_TextFallsBackToHex(t *testing.T) {
	is := is.New(t)

	s, err := codec.Render([]byte("hi"), codec.Text)
	is.NoErr(err)
	is.Equal(s, "hi")

	s, err = codec.Render([]byte{0xff, 0xfe}, codec.Text)
	is.True(errors.Is(err, codec.ErrInvalidUTF8))
	is.Equal(s, "FF FE")

	s, err = codec.Render([]byte{0xde, 0xad}, codec.Hex)
	is.NoErr(err)
	is.Equal(s, "DE AD")
}

func TestParse(t *testing.T) {
	is := is.New(t)

	b, err := codec.Parse("HI", codec.Text)
	is.NoErr(err)
	is.Equal(b, []byte{0x48, 0x49})

	b, err = codec.Parse("48 49", codec.Hex)
	is.NoErr(err)
	is.Equal(b, []byte{0x48, 0x49})

	_, err = codec.Parse("484", codec.Hex)
	is.True(errors.Is(err, codec.ErrOddLength))
}

func TestHistoryString(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("hello"), "hello"},
		{"crlf tab allowed", []byte("a\r\n\tb"), "a\r\n\tb"},
		{"nul forces hex", []byte{'a', 0x00}, "61 00"},
		{"invalid utf8 forces hex", []byte{0xc3, 0x28}, "C3 28"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.HistoryString(tt.in); got != tt.want {
				t.Errorf("HistoryString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestViewModeJSON(t *testing.T) {
	is := is.New(t)

	var v struct {
		Mode codec.ViewMode `json:"mode"`
	}
	is.NoErr(json.Unmarshal([]byte(`{"mode":"HEX"}`), &v))
	is.Equal(v.Mode, codec.Hex)

	out, err := json.Marshal(v)
	is.NoErr(err)
	is.Equal(string(out), `{"mode":"hex"}`)

	is.True(json.Unmarshal([]byte(`{"mode":"binary"}`), &v) != nil)
}

func TestDescribeSize(t *testing.T) {
	is := is.New(t)
	is.Equal(codec.DescribeSize("abc"), "3 bytes")
	is.Equal(codec.DescribeSize(string(make([]byte, 2048))), "2.0 KB")
}
