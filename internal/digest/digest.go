package digest

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm is the tag stored next to every declared digest.
type Algorithm string

const (
	// SHA256 is the SHA-256 algorithm tag.
	SHA256 Algorithm = "sha256"
	// SHA512 is the SHA-512 algorithm tag.
	SHA512 Algorithm = "sha512"
	// BLAKE3 is the unkeyed 256-bit BLAKE3 algorithm tag.
	BLAKE3 Algorithm = "blake3"

	// DefaultAlgorithm is used for files whose algorithm is not dictated by a declaration.
	DefaultAlgorithm = SHA512

	// separator splits the algorithm tag from the hex value in the text form.
	separator = ":"
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithm tags this build cannot compute.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	// ErrHashMismatch is returned when content does not match its declared digest.
	ErrHashMismatch = errors.New("hash mismatch")
	// errMalformedDigest is returned when the text form cannot be parsed.
	errMalformedDigest = errors.New("malformed digest")
)

// sizes holds the sum length in bytes for every supported algorithm.
//
//nolint:gochecknoglobals // Read-only lookup table.
var sizes = map[Algorithm]int{
	SHA256: sha256.Size,
	SHA512: sha512.Size,
	BLAKE3: 32,
}

// Algorithms returns the supported algorithm tags in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, SHA512, BLAKE3}
}

// ParseAlgorithm converts user input into a supported Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if !alg.Supported() {
		return "", fmt.Errorf("%q: %w", s, ErrUnsupportedAlgorithm)
	}

	return alg, nil
}

// Supported reports whether the algorithm can be computed by this build.
func (a Algorithm) Supported() bool {
	_, ok := sizes[a]

	return ok
}

// Size returns the sum length in bytes, or 0 for unsupported algorithms.
func (a Algorithm) Size() int {
	return sizes[a]
}

// New returns a fresh hash.Hash for the algorithm.
//
//nolint:ireturn // hash.Hash is the natural return type here.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%q: %w", string(a), ErrUnsupportedAlgorithm)
	}
}

// CryptoHash returns the standard library identifier of the algorithm.
// BLAKE3 has none.
func (a Algorithm) CryptoHash() (crypto.Hash, bool) {
	switch a {
	case SHA256:
		return crypto.SHA256, true
	case SHA512:
		return crypto.SHA512, true
	default:
		return 0, false
	}
}

// String returns the algorithm tag.
func (a Algorithm) String() string {
	return string(a)
}

// Digest is a computed or declared content hash.
type Digest struct {
	// Algorithm identifies how Sum was computed.
	Algorithm Algorithm
	// Sum holds the raw hash bytes.
	Sum []byte
}

// New builds a Digest, copying sum.
func New(alg Algorithm, sum []byte) Digest {
	return Digest{
		Algorithm: alg,
		Sum:       bytes.Clone(sum),
	}
}

// Parse reads the "<algorithm>:<hex>" text form.
// Unknown algorithm tags are accepted; callers check Supported before hashing.
func Parse(s string) (Digest, error) {
	tag, value, found := strings.Cut(strings.TrimSpace(s), separator)
	if !found || tag == "" || value == "" {
		return Digest{}, fmt.Errorf("%q: %w", s, errMalformedDigest)
	}

	sum, err := hex.DecodeString(value)
	if err != nil {
		return Digest{}, fmt.Errorf("%q: %w: %w", s, errMalformedDigest, err)
	}

	return Digest{
		Algorithm: Algorithm(strings.ToLower(tag)),
		Sum:       sum,
	}, nil
}

// String renders the digest as "<algorithm>:<lowercase hex>".
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}

	return string(d.Algorithm) + separator + hex.EncodeToString(d.Sum)
}

// Hex returns the hash bytes hex-encoded.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum)
}

// IsZero reports whether the digest holds neither algorithm nor value.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && len(d.Sum) == 0
}

// Equal compares algorithm and hash bytes exactly.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Sum, other.Sum)
}

// Clone returns a digest that does not share the Sum backing array.
func (d Digest) Clone() Digest {
	return New(d.Algorithm, d.Sum)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// Of computes the digest of everything readable from r.
func Of(alg Algorithm, r io.Reader) (Digest, error) {
	hasher, err := NewHasher(alg)
	if err != nil {
		return Digest{}, err
	}

	if _, err = io.Copy(hasher, r); err != nil {
		return Digest{}, fmt.Errorf("compute %s digest: %w", alg, err)
	}

	return hasher.Digest(), nil
}

// OfBytes computes the digest of data.
func OfBytes(alg Algorithm, data []byte) (Digest, error) {
	return Of(alg, bytes.NewReader(data))
}
