// Package auth hashes and verifies the secret tokens players use to act in a game.
package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a token does not match its hash.
var ErrInvalidToken = errors.New("invalid token")

// BcryptCredentials hashes tokens with bcrypt.
type BcryptCredentials struct {
	cost int
}

// NewBcryptCredentials returns credentials hashing at cost. Out-of-range costs
// fall back to bcrypt.DefaultCost.
func NewBcryptCredentials(cost int) *BcryptCredentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptCredentials{cost: cost}
}

// Hash returns the bcrypt hash of token.
func (c *BcryptCredentials) Hash(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), c.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// Verify checks token against hash.
func (c *BcryptCredentials) Verify(hash, token string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to verify token: %w", err)
	}
	return nil
}

// NewToken generates a random player token.
func NewToken() string {
	return uuid.NewString()
}
