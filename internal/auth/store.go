package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// Ledger is the durable store of refresh records. It is the only shared
// mutable resource in the subsystem; every operation re-reads
// authoritative state. Records are never physically deleted.
type Ledger interface {
	// Mint generates a fresh refresh secret, stores its hash, and returns
	// the plaintext secret exactly once.
	Mint(ctx context.Context, accountID, device string, ttl time.Duration) (string, *RefreshRecord, error)

	// Find looks the record up by exact hash equality regardless of its
	// state. ErrNotFound when no record's hash matches.
	Find(ctx context.Context, secret string) (*RefreshRecord, error)

	// FindActive is Find restricted to active records: ErrTokenInactive
	// when the matched record is revoked or past expiry.
	FindActive(ctx context.Context, secret string) (*RefreshRecord, error)

	// Rotate atomically revokes the presented record and mints its
	// replacement for the same account. At most one of two concurrent
	// rotations of the same secret succeeds; the loser observes
	// ErrTokenInactive or ErrNotFound.
	Rotate(ctx context.Context, secret, device string, ttl time.Duration) (string, *RefreshRecord, error)

	// Revoke sets the revocation timestamp if unset. Idempotent; unknown
	// or already-revoked secrets are not errors.
	Revoke(ctx context.Context, secret string) error

	// RevokeAllForAccount revokes every currently-active record for the
	// account in one logical batch.
	RevokeAllForAccount(ctx context.Context, accountID string) error
}

// AccountResolver is the external collaborator that owns account records.
type AccountResolver interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// Create inserts a new account, relying on the email uniqueness
	// constraint; a duplicate maps to ErrAlreadyExists.
	Create(ctx context.Context, acc NewAccount) (*Account, error)
}

const refreshSecretBytes = 48

// NewRefreshSecret returns a URL-safe refresh secret with 48 bytes of
// entropy.
func NewRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 of a refresh secret. Only this hash
// is ever stored at rest.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
