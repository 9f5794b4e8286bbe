package digest

import (
	"errors"
	"fmt"
	"hash"
	"io"
)

// Hasher accumulates a digest incrementally.
// Write is the update step and Digest the finalize step.
type Hasher struct {
	alg  Algorithm
	h    hash.Hash
	size int64
}

// NewHasher starts an incremental digest computation.
func NewHasher(alg Algorithm) (*Hasher, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}

	return &Hasher{
		alg: alg,
		h:   h,
	}, nil
}

// Write feeds a chunk into the hash. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.size += int64(n)

	return n, err
}

// Size returns the number of bytes hashed so far.
func (h *Hasher) Size() int64 {
	return h.size
}

// Algorithm returns the algorithm the hasher was created with.
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Digest returns the digest of everything written so far.
// The hasher stays usable; further writes extend the same stream.
func (h *Hasher) Digest() Digest {
	return Digest{
		Algorithm: h.alg,
		Sum:       h.h.Sum(nil),
	}
}

// MismatchError describes content that does not match its declared digest.
type MismatchError struct {
	// Name is the archive-relative file name that failed verification.
	Name string
	// Expected is the declared digest.
	Expected Digest
	// Actual is the digest computed from the content.
	// When Cause is set it covers only the bytes read before the failure.
	Actual Digest
	// Cause is the decoding error that stopped the content from being read, if any.
	Cause error
}

// Error returns the file name with both digests.
func (e *MismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: declared %s, content is corrupt: %v", e.Name, ErrHashMismatch, e.Expected, e.Cause)
	}

	return fmt.Sprintf("%s: %s: declared %s, computed %s", e.Name, ErrHashMismatch, e.Expected, e.Actual)
}

// Unwrap returns ErrHashMismatch and the cause so callers can use errors.Is on both.
func (e *MismatchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrHashMismatch}
	}

	return []error{ErrHashMismatch, e.Cause}
}

// VerifyingReader hashes everything read through it and compares the result
// with the expected digest once the underlying reader reports io.EOF.
type VerifyingReader struct {
	r        io.Reader
	hasher   *Hasher
	expected Digest
	name     string
	done     bool
}

// NewVerifyingReader wraps r so that reaching EOF verifies the content against expected.
func NewVerifyingReader(r io.Reader, expected Digest, name string) (*VerifyingReader, error) {
	hasher, err := NewHasher(expected.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &VerifyingReader{
		r:        r,
		hasher:   hasher,
		expected: expected,
		name:     name,
	}, nil
}

// Read implements io.Reader. At EOF it returns a *MismatchError instead of
// io.EOF when the content differs from the expected digest.
func (v *VerifyingReader) Read(p []byte) (int, error) {
	if v.done {
		return 0, io.EOF
	}

	n, err := v.r.Read(p)
	if n > 0 {
		_, _ = v.hasher.Write(p[:n])
	}

	if errors.Is(err, io.EOF) {
		v.done = true

		if mismatch := v.Check(); mismatch != nil {
			return n, mismatch
		}
	}

	return n, err
}

// Check compares the bytes seen so far with the expected digest.
func (v *VerifyingReader) Check() error {
	actual := v.hasher.Digest()
	if actual.Equal(v.expected) {
		return nil
	}

	return &MismatchError{
		Name:     v.name,
		Expected: v.expected,
		Actual:   actual,
	}
}

// Fail ends verification early because the content could not be decoded.
// The returned *MismatchError carries cause; later reads return io.EOF.
func (v *VerifyingReader) Fail(cause error) error {
	v.done = true

	return &MismatchError{
		Name:     v.name,
		Expected: v.expected,
		Actual:   v.hasher.Digest(),
		Cause:    cause,
	}
}

// Verify reads r to the end and checks it against expected.
func Verify(r io.Reader, expected Digest, name string) error {
	verifier, err := NewVerifyingReader(r, expected, name)
	if err != nil {
		return err
	}

	if _, err = io.Copy(io.Discard, verifier); err != nil {
		return err
	}

	return nil
}
