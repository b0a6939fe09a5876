package pathcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"contacts",
		"cats/persian",
		"日本語",
		"a b c",
		"UPPER-lower",
		string([]byte{0x00, 0x01, 0xff}),
	}

	for _, segment := range cases {
		encoded := Encode(segment)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, segment, decoded)
	}
}

func TestEncode_IsLowercaseOnly(t *testing.T) {
	encoded := Encode("Some MiXeD Segment")
	for _, r := range encoded {
		assert.False(t, r >= 'A' && r <= 'Z', "encoded output must never contain uppercase: %q", encoded)
	}
}

func TestEncode_GoldenVectors(t *testing.T) {
	// Locked wire format: lowercase hex of UTF-8 bytes. Changing these
	// values means breaking every existing on-disk directory tree.
	cases := map[string]string{
		"":     "",
		"info": "696e666f",
		"a":    "61",
	}
	for in, want := range cases {
		assert.Equal(t, want, Encode(in))
	}
}

func TestDecode_RejectsInvalidHex(t *testing.T) {
	_, err := Decode("not-hex!!")
	assert.Error(t, err)
}

func TestEncodePath_DecodePath(t *testing.T) {
	path := []string{"cats", "persian", "日本語"}
	encoded := EncodePath(path)
	decoded, err := DecodePath(encoded)
	require.NoError(t, err)
	assert.Equal(t, path, decoded)
}

func TestEncodeFileName_DecodeFileName_RoundTrip(t *testing.T) {
	cases := [][]string{
		{},
		{"info"},
		{"cats", "persian"},
		{"a-b", "c"},
	}
	for _, path := range cases {
		name := EncodeFileName(path)
		decoded, err := DecodeFileName(name)
		require.NoError(t, err)
		assert.Equal(t, path, decoded)
	}
}

func TestEncodeFileName_DistinctPathsDontCollide(t *testing.T) {
	a := EncodeFileName([]string{"a-b", "c"})
	b := EncodeFileName([]string{"a", "b-c"})
	assert.NotEqual(t, a, b)
}
