// Package supervisor verifies supervisor PINs for the cash-variance
// approval gate. The PIN never leaves this package; the shift manager only
// sees the supervisor id on success.
package supervisor

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPIN = errors.New("invalid supervisor pin")

type Verifier interface {
	// Verify returns the supervisor's id when the PIN matches.
	Verify(ctx context.Context, pin string) (string, error)
}

// BcryptVerifier checks PINs against bcrypt hashes held in memory.
type BcryptVerifier struct {
	hashesByID map[string]string
}

func NewBcryptVerifier(hashesByID map[string]string) *BcryptVerifier {
	return &BcryptVerifier{hashesByID: hashesByID}
}

// NewFromPlainPIN hashes a single configured PIN at startup, the same way
// the back office treats its manager PIN.
func NewFromPlainPIN(supervisorID string, pin string) (*BcryptVerifier, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(pin)), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return NewBcryptVerifier(map[string]string{supervisorID: string(hash)}), nil
}

func (v *BcryptVerifier) Verify(_ context.Context, pin string) (string, error) {
	input := strings.TrimSpace(pin)
	if input == "" {
		return "", ErrInvalidPIN
	}
	for id, hash := range v.hashesByID {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil {
			return id, nil
		}
	}
	return "", ErrInvalidPIN
}
