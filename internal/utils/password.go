package utils

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the longest input bcrypt will hash without truncation.
const maxPasswordBytes = 72

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrHashing, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns bcrypt hash of plain.  Every call draws a fresh salt, so two
// hashes of the same password differ.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password longer than %d bytes", ErrHashing, maxPasswordBytes)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashing, err)
	}
	return string(b), nil
}

// Verify safely compares bcrypt hash and plain password.  A mismatch is not an
// error; only a hash that bcrypt cannot parse is.
func (h *Hasher) Verify(plain, hash string) (bool, error) {
	if len(plain) > maxPasswordBytes {
		return false, nil // Hash never accepted it, so it cannot match
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrHashing, err)
	}
}
