// Package pin moves finished pipeline artifacts into content-addressed
// storage. An artifact bundle is archived deterministically, stored under
// the SHA-256 of its bytes, and read back to verify the address before the
// upload is marked done.
package pin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when no content exists for an address.
	ErrNotFound = errors.New("content not found")

	// ErrPinMismatch is returned when the stored bytes do not hash back to
	// their address. It indicates corruption in the store.
	ErrPinMismatch = errors.New("pinned content does not match its address")
)

// addrPrefix namespaces the hash algorithm in the address.
const addrPrefix = "sha256:"

// Address is a content address: "sha256:" plus the lowercase hex digest.
type Address string

// NewAddress builds the address for a digest.
func NewAddress(sum [sha256.Size]byte) Address {
	return Address(addrPrefix + hex.EncodeToString(sum[:]))
}

// ParseAddress validates the textual form.
func ParseAddress(s string) (Address, error) {
	if !strings.HasPrefix(s, addrPrefix) {
		return "", fmt.Errorf("address %q missing %q prefix", s, addrPrefix)
	}
	digest := s[len(addrPrefix):]
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("address %q has wrong digest length", s)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("address %q is not hex: %w", s, err)
	}
	return Address(s), nil
}

// Hex returns the digest part of the address.
func (a Address) Hex() string {
	return strings.TrimPrefix(string(a), addrPrefix)
}

func (a Address) String() string { return string(a) }

// Store is a content-addressed byte store.
type Store interface {
	// Put stores the stream and returns its address and size. Storing
	// content that already exists is a no-op returning the same address.
	Put(ctx context.Context, r io.Reader) (Address, int64, error)

	// Get opens the content at the address.
	Get(ctx context.Context, addr Address) (io.ReadCloser, error)

	// Has reports whether content exists for the address.
	Has(ctx context.Context, addr Address) (bool, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// hashingReader tees a stream through a SHA-256 state.
type hashingReader struct {
	r    io.Reader
	h    io.Writer
	size int64
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.size += int64(n)
	}
	return n, err
}

// verifyAddress re-reads stored content and checks it hashes back to addr.
func verifyAddress(ctx context.Context, s Store, addr Address) (int64, error) {
	rc, err := s.Get(ctx, addr)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	h := sha256.New()
	size, err := io.Copy(h, rc)
	if err != nil {
		return 0, err
	}

	var sum [sha256.Size]byte
	h.Sum(sum[:0])
	if NewAddress(sum) != addr {
		return 0, ErrPinMismatch
	}
	return size, nil
}
