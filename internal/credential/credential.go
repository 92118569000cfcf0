// Package credential owns password hashing, verification and high-entropy
// token generation. Every call is independent; the package holds no state
// beyond configuration.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinCost is the lowest accepted bcrypt work factor. Configured values
	// below it are raised, never honored.
	MinCost = 10

	// MinTokenBytes is the absolute floor for token material length.
	MinTokenBytes = 16

	// DefaultTokenBytes is the documented default for issued key material.
	DefaultTokenBytes = 32

	// TokenPrefix marks tokens produced by this service so that leaked
	// values are recognizable in scanners and logs.
	TokenPrefix = "sk_"
)

var (
	// ErrEntropy indicates the system entropy source failed. Fatal: the
	// caller should refuse to continue rather than weaken key material.
	ErrEntropy = errors.New("credential: entropy source unavailable")

	// ErrMalformedDigest indicates the stored digest is not a recognized
	// bcrypt digest (typically legacy plaintext rows). Callers treat it as
	// a failed verification, not a crash.
	ErrMalformedDigest = errors.New("credential: malformed digest")

	// ErrWeakToken rejects token requests below the safety floor.
	ErrWeakToken = errors.New("credential: requested token too short")
)

// Hasher hashes and verifies passwords with a fixed work factor.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher. Costs below MinCost are clamped up to it;
// zero means bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < MinCost {
		cost = MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

// Cost reports the effective work factor.
func (h Hasher) Cost() int {
	if h.cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.cost
}

// Hash produces a salted bcrypt digest of plaintext. Two calls with the same
// plaintext produce different digests; both verify.
func (h Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("credential: password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A mismatch returns
// (false, nil); an unrecognizable digest returns (false, ErrMalformedDigest).
func (h Hasher) Verify(plaintext, digest string) (bool, error) {
	if digest == "" {
		return false, ErrMalformedDigest
	}
	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
}

// GenerateToken returns a fresh high-entropy token of byteLength random bytes
// encoded as base64url with the service prefix. Used for API key material and
// reset tokens. byteLength below MinTokenBytes is rejected with ErrWeakToken.
func GenerateToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", fmt.Errorf("%w: %d bytes (minimum %d)", ErrWeakToken, byteLength, MinTokenBytes)
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenDisplayPrefix returns the short identifying head of a token for
// operator display and logs. Never long enough to reconstruct the token.
func TokenDisplayPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	body := strings.TrimPrefix(token, TokenPrefix)
	if len(body) > 8 {
		body = body[:8]
	}
	return TokenPrefix + body
}
