package auth

import "time"

// Account is the identity record owned by the account resolver. The
// orchestrator reads it for verification and writes it only when a first
// federated login creates it; role and status are never mutated here.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          string
	Status        string
	EmailVerified bool
	LastLoginAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount is the input for AccountResolver.Create.
type NewAccount struct {
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
}

// RefreshRecord is one row of the refresh ledger. Only the SHA-256 of the
// refresh secret is stored; the plaintext leaves the ledger exactly once,
// at mint time. Records are immutable except for RevokedAt, which is set
// at most once.
type RefreshRecord struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt time.Time
	Device    string
	CreatedAt time.Time
}

// Active reports whether the record is neither revoked nor past expiry.
// Expiry is enforced lazily at lookup; there is no sweeping process.
func (r *RefreshRecord) Active(now time.Time) bool {
	return r.RevokedAt.IsZero() && (r.ExpiresAt.IsZero() || r.ExpiresAt.After(now))
}

// TokenPair is the caller-visible result of login, federated login, and
// refresh. Expiry fields are in seconds.
type TokenPair struct {
	AccessToken           string `json:"accessToken"`
	AccessTokenExpiresIn  int64  `json:"accessTokenExpiresIn"`
	RefreshToken          string `json:"refreshToken"`
	RefreshTokenExpiresIn int64  `json:"refreshTokenExpiresIn"`
	TokenType             string `json:"tokenType"`
}
