package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sportshub.org/internal/ids"
)

var (
	_ Ledger          = (*PGStore)(nil)
	_ AccountResolver = (*PGStore)(nil)
)

// PGStore implements the refresh ledger and the account resolver contract
// on PostgreSQL. Two tables back it: accounts (one row per identity, email
// unique) and refresh_tokens (one row per issued secret, append-mostly).
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL with pool defaults tuned for short
// transactional calls.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPGStore(db), nil
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

// Refresh ledger -----------------------------------------------------------

func (s *PGStore) Mint(ctx context.Context, accountID, device string, ttl time.Duration) (string, *RefreshRecord, error) {
	secret, err := NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	rec, err := s.insertRecord(ctx, s.db, accountID, HashSecret(secret), device, ttl)
	if isUniqueViolation(err) {
		// A hash collision is practically impossible; a second secret
		// settles it either way.
		if secret, err = NewRefreshSecret(); err != nil {
			return "", nil, err
		}
		rec, err = s.insertRecord(ctx, s.db, accountID, HashSecret(secret), device, ttl)
	}
	if err != nil {
		return "", nil, err
	}
	return secret, rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PGStore) insertRecord(ctx context.Context, db execer, accountID, tokenHash, device string, ttl time.Duration) (*RefreshRecord, error) {
	now := s.now().UTC()
	rec := &RefreshRecord{
		ID:        ids.New(),
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl),
		Device:    device,
		CreatedAt: now,
	}
	_, err := db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token_hash, expires_at, device_info, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.AccountID, rec.TokenHash, rec.ExpiresAt, nullString(rec.Device), rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PGStore) Find(ctx context.Context, secret string) (*RefreshRecord, error) {
	return s.findByHash(ctx, HashSecret(secret))
}

func (s *PGStore) findByHash(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_hash, expires_at, revoked_at, device_info, created_at
		 from refresh_tokens where token_hash=$1`, tokenHash)
	var (
		rec     RefreshRecord
		revoked sql.NullTime
		device  sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &rec.ExpiresAt, &revoked, &device, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		rec.RevokedAt = revoked.Time
	}
	rec.Device = device.String
	return &rec, nil
}

func (s *PGStore) FindActive(ctx context.Context, secret string) (*RefreshRecord, error) {
	rec, err := s.Find(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !rec.Active(s.now()) {
		return nil, ErrTokenInactive
	}
	return rec, nil
}

// Rotate revokes the presented record and mints its replacement in one
// transaction. The conditional update on the unique token hash is the
// tie-breaker between concurrent rotations: exactly one matches the row
// while it is still active. A serialization failure is retried once.
func (s *PGStore) Rotate(ctx context.Context, secret, device string, ttl time.Duration) (string, *RefreshRecord, error) {
	tokenHash := HashSecret(secret)
	newSecret, rec, err := s.rotateOnce(ctx, tokenHash, device, ttl)
	if isSerializationFailure(err) {
		newSecret, rec, err = s.rotateOnce(ctx, tokenHash, device, ttl)
	}
	return newSecret, rec, err
}

func (s *PGStore) rotateOnce(ctx context.Context, tokenHash, device string, ttl time.Duration) (string, *RefreshRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var accountID string
	err = tx.QueryRowContext(ctx,
		`update refresh_tokens set revoked_at = now()
		 where token_hash=$1 and revoked_at is null and expires_at > now()
		 returning account_id`, tokenHash,
	).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race, or the record was never active. Classify for
		// the caller without holding the transaction open.
		_ = tx.Rollback()
		if _, findErr := s.findByHash(ctx, tokenHash); findErr != nil {
			return "", nil, findErr
		}
		return "", nil, ErrTokenInactive
	}
	if err != nil {
		return "", nil, err
	}

	newSecret, err := NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	rec, err := s.insertRecord(ctx, tx, accountID, HashSecret(newSecret), device, ttl)
	if err != nil {
		return "", nil, err
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return newSecret, rec, nil
}

func (s *PGStore) Revoke(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now()
		 where token_hash=$1 and revoked_at is null`, HashSecret(secret))
	return err
}

func (s *PGStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now()
		 where account_id=$1 and revoked_at is null and expires_at > now()`, accountID)
	return err
}

// Account resolver ---------------------------------------------------------

const accountColumns = `id, email, password_hash, role, status, email_verified, last_login_at, created_at, updated_at`

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

// Create inserts the account and lets the email uniqueness constraint
// arbitrate concurrent first-time creations; the losing writer gets
// ErrAlreadyExists and should fetch the existing row instead.
func (s *PGStore) Create(ctx context.Context, in NewAccount) (*Account, error) {
	now := s.now().UTC()
	acc := &Account{
		ID:            ids.New(),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		Status:        "ACTIVE",
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, role, status, email_verified, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		acc.ID, acc.Email, acc.PasswordHash, acc.Role, acc.Status, acc.EmailVerified, acc.CreatedAt, acc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		acc       Account
		lastLogin sql.NullTime
	)
	err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Role, &acc.Status,
		&acc.EmailVerified, &lastLogin, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		acc.LastLoginAt = lastLogin.Time
	}
	return &acc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
