// Pluggable content digest engine for change detection by file bytes
package fsdigest

import (
	"crypto/md5"
	"crypto/sha512"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"
	"strings"

	"github.com/aead/skein/skein1024"
	"github.com/aead/skein/skein256"
	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/crypto/sha3"
)

type Type int

const (
	None Type = iota
	Adler32
	CRC32
	MD5
	Skein256
	Skein1024
	SHA256
	SHA512
	SHA3_256
	SHA3_512
)

var ErrUnsupported = fmt.Errorf("fsdigest: unsupported algorithm")

// Types lists the supported algorithms in declaration order.
func Types() []Type {
	return []Type{None, Adler32, CRC32, MD5, Skein256, Skein1024, SHA256, SHA512, SHA3_256, SHA3_512}
}

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Adler32:
		return "adler32"
	case CRC32:
		return "crc32"
	case MD5:
		return "md5"
	case Skein256:
		return "skein256"
	case Skein1024:
		return "skein1024"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	case SHA3_256:
		return "sha3-256"
	case SHA3_512:
		return "sha3-512"
	default:
		return "invalid"
	}
}

// ParseType accepts the canonical names plus dashed aliases like
// "sha-256" and "skein-1024", case insensitively.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "none":
		return None, nil
	case "adler32", "adler-32":
		return Adler32, nil
	case "crc32", "crc-32":
		return CRC32, nil
	case "md5", "md-5":
		return MD5, nil
	case "skein256", "skein-256":
		return Skein256, nil
	case "skein1024", "skein-1024":
		return Skein1024, nil
	case "sha256", "sha-256", "sha2-256":
		return SHA256, nil
	case "sha512", "sha-512", "sha2-512":
		return SHA512, nil
	case "sha3-256":
		return SHA3_256, nil
	case "sha3-512":
		return SHA3_512, nil
	default:
		return None, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}

// New returns a streaming hasher for the given algorithm. Asking a
// hasher for None is an error - the caller is expected to skip
// digesting entirely when it is disabled.
func New(t Type) (hash.Hash, error) {
	switch t {
	case Adler32:
		return adler32.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	case MD5:
		return md5.New(), nil
	case Skein256:
		return skein256.New(32, nil), nil
	case Skein1024:
		return skein1024.New(128, nil), nil
	case SHA256:
		return sha256simd.New(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case SHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

// Sum streams the reader through the algorithm and returns the final
// fixed-length output.
func Sum(t Type, reader io.Reader) ([]byte, error) {
	hasher, err := New(t)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(hasher, reader); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}
