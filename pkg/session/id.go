package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	// sessionIDBytes is the number of random bytes for hex session IDs.
	sessionIDBytes = 16

	// DefaultMaxIDAttempts bounds identifier generation when no limit is set.
	DefaultMaxIDAttempts = 32
)

var errNoExistsCheck = errors.New("session: IDGenerator.Exists is nil")

// TokenFunc produces an identifier candidate.
type TokenFunc func() (string, error)

// HexToken returns a cryptographically random 32 character hex token.
func HexToken() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// UUIDToken returns a random (version 4) UUID string.
func UUIDToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating uuid: %w", err)
	}
	return id.String(), nil
}

// IDGenerator mints identifiers that do not collide with any record present
// at generation time. Uniqueness is checked, not reserved: two generators
// racing on the same candidate can both succeed.
type IDGenerator struct {
	// Token produces candidates. Defaults to HexToken.
	Token TokenFunc

	// Exists reports whether a record already uses sid. Required.
	Exists func(ctx context.Context, sid string) (bool, error)

	// MaxAttempts bounds the number of candidates tried. Defaults to
	// DefaultMaxIDAttempts.
	MaxAttempts int
}

// Generate returns the first candidate with no existing record.
func (g IDGenerator) Generate(ctx context.Context) (string, error) {
	if g.Exists == nil {
		return "", errNoExistsCheck
	}
	token := g.Token
	if token == nil {
		token = HexToken
	}
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxIDAttempts
	}

	for range attempts {
		sid, err := token()
		if err != nil {
			return "", err
		}
		exists, err := g.Exists(ctx, sid)
		if err != nil {
			return "", fmt.Errorf("checking session id: %w", err)
		}
		if !exists {
			return sid, nil
		}
	}
	return "", fmt.Errorf("%w after %d candidates", ErrIDSpaceExhausted, attempts)
}
