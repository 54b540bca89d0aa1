package fsdigest

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestParseType(t *testing.T) {
	for _, tc := range []struct {
		input  string
		expect Type
	}{
		{"none", None},
		{"NONE", None},
		{"adler-32", Adler32},
		{"crc32", CRC32},
		{"md5", MD5},
		{"skein-256", Skein256},
		{"skein1024", Skein1024},
		{"SHA-256", SHA256},
		{"sha2-512", SHA512},
		{"sha3-256", SHA3_256},
		{"sha3-512", SHA3_512},
	} {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseType(tc.input)
			assert.Ok(t, err)
			assert.Assert(t, got == tc.expect)
		})
	}

	_, err := ParseType("blake999")
	assert.Assert(t, errors.Is(err, ErrUnsupported))
}

func TestSumKnownAnswers(t *testing.T) {
	for _, tc := range []struct {
		typ       Type
		expectHex string
	}{
		{MD5, "5d41402abc4b2a76b9719d911017c592"},
		{SHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{CRC32, "3610a686"},
		{Adler32, "062c0215"},
	} {
		t.Run(tc.typ.String(), func(t *testing.T) {
			sum, err := Sum(tc.typ, strings.NewReader("hello"))
			assert.Ok(t, err)
			assert.EqualString(t, hex.EncodeToString(sum), tc.expectHex)
		})
	}
}

func TestOutputLengths(t *testing.T) {
	for _, tc := range []struct {
		typ    Type
		length int
	}{
		{Adler32, 4},
		{CRC32, 4},
		{MD5, 16},
		{Skein256, 32},
		{Skein1024, 128},
		{SHA256, 32},
		{SHA512, 64},
		{SHA3_256, 32},
		{SHA3_512, 64},
	} {
		t.Run(tc.typ.String(), func(t *testing.T) {
			sum, err := Sum(tc.typ, strings.NewReader("x"))
			assert.Ok(t, err)
			assert.Assert(t, len(sum) == tc.length)
		})
	}
}

func TestNoneHasNoHasher(t *testing.T) {
	_, err := New(None)
	assert.Assert(t, errors.Is(err, ErrUnsupported))
}
