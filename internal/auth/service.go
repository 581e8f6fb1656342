package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sportshub.org/internal/obs"
)

const (
	defaultRefreshTTL = 7 * 24 * time.Hour

	// Role given to accounts created by a first federated login. The
	// orchestrator never mutates roles after creation.
	federatedRole = "USER"

	syntheticEmailDomain = "oauth.local"
)

// Service composes the credential verifier, identity normalizer, token
// issuer, refresh ledger, and account resolver into the four lifecycle
// operations. It holds no session state between calls; the ledger is the
// single source of truth.
type Service struct {
	accounts    AccountResolver
	ledger      Ledger
	issuer      *Issuer
	refreshTTL  time.Duration
	redirectURL string
	limiter     *keyLimiter
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithSuccessRedirectURL sets the target used to build the post-federated-
// login redirect URL.
func WithSuccessRedirectURL(target string) ServiceOption {
	return func(s *Service) error {
		s.redirectURL = strings.TrimSpace(target)
		return nil
	}
}

// WithAttemptRate bounds login and refresh attempts per key per minute.
// Zero leaves throttling off.
func WithAttemptRate(perMinute int) ServiceOption {
	return func(s *Service) error {
		if perMinute > 0 {
			s.limiter = newKeyLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the session orchestrator.
func NewService(accounts AccountResolver, ledger Ledger, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("auth: account resolver is required")
	}
	if ledger == nil {
		return nil, errors.New("auth: refresh ledger is required")
	}
	if issuer == nil {
		return nil, ErrSigningKey
	}
	svc := &Service{
		accounts:   accounts,
		ledger:     ledger,
		issuer:     issuer,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login verifies the password credential and opens a session. An unknown
// email and a wrong password produce the identical failure.
func (s *Service) Login(ctx context.Context, email, password, device string) (TokenPair, error) {
	email = strings.TrimSpace(email)
	if s.limiter != nil && !s.limiter.allow("login:"+email) {
		obs.ObserveLogin("password", "rate_limited")
		return TokenPair{}, ErrRateLimited
	}
	if email == "" || password == "" {
		obs.ObserveLogin("password", "failure")
		return TokenPair{}, ErrInvalidCredentials
	}
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("password", "failure")
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		obs.ObserveLogin("password", "failure")
		return TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issueTokens(ctx, acc, device, "")
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveLogin("password", "success")
	return pair, nil
}

// LoginFederated normalizes a provider payload, resolves or creates the
// backing account, and opens a session. Accounts created here get the
// provider email, or a deterministic synthetic address when the provider
// supplies none, and are marked email-verified.
func (s *Service) LoginFederated(ctx context.Context, provider string, attrs map[string]any, device string) (TokenPair, error) {
	ident := Normalize(provider, attrs)
	if ident.Email == "" && ident.ProviderID == "" {
		obs.ObserveLogin("federated", "failure")
		return TokenPair{}, ErrInvalidCredentials
	}
	email := ident.Email
	if email == "" {
		email = fmt.Sprintf("%s+%s@%s", ident.Provider, ident.ProviderID, syntheticEmailDomain)
	}

	acc, err := s.accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		acc, err = s.createFederatedAccount(ctx, email)
	}
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.issueTokens(ctx, acc, device, ident.Provider)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveLogin("federated", "success")
	return pair, nil
}

func (s *Service) createFederatedAccount(ctx context.Context, email string) (*Account, error) {
	// The password slot gets a random unusable credential; federated
	// accounts only ever authenticate through their provider.
	hash, err := HashPassword("oauth:" + uuid.NewString())
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Create(ctx, NewAccount{
		Email:         email,
		PasswordHash:  hash,
		Role:          federatedRole,
		EmailVerified: true,
	})
	if errors.Is(err, ErrAlreadyExists) {
		// A concurrent first login won the uniqueness race; its row is
		// ours to use.
		return s.accounts.FindByEmail(ctx, email)
	}
	return acc, err
}

// Refresh rotates the presented secret and issues a fresh access token.
// Unknown, expired, and revoked secrets all surface as ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, secret, device string) (TokenPair, error) {
	if s.limiter != nil && !s.limiter.allow("refresh:"+HashSecret(secret)) {
		obs.ObserveRefresh("rate_limited")
		return TokenPair{}, ErrRateLimited
	}
	newSecret, rec, err := s.ledger.Rotate(ctx, secret, device, s.refreshTTL)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenInactive) {
			obs.ObserveRefresh("denied")
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	acc, err := s.accounts.FindByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("denied")
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	access, err := s.issuer.Issue(acc.ID, AccessClaims{Email: acc.Email, Role: acc.Role})
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveRefresh("success")
	return s.pair(access, newSecret), nil
}

// Logout revokes the single matching refresh record. Unknown and
// already-revoked secrets are a successful no-op.
func (s *Service) Logout(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if err := s.ledger.Revoke(ctx, secret); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	obs.ObserveLogout("single")
	return nil
}

// LogoutAll resolves the owning account from the presented secret and
// revokes every active record for it. An unresolvable secret is a no-op.
func (s *Service) LogoutAll(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	rec, err := s.ledger.Find(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.ledger.RevokeAllForAccount(ctx, rec.AccountID); err != nil {
		return err
	}
	obs.ObserveLogout("all")
	obs.Event(map[string]any{
		"event":   "logout_all",
		"account": rec.AccountID,
	})
	return nil
}

// ParseAccess verifies a bearer token and returns its claims.
func (s *Service) ParseAccess(token string) (*AccessClaims, error) {
	return s.issuer.Parse(token)
}

// SuccessRedirectURL builds the post-federated-login redirect target with
// the access token and provider as query parameters.
func (s *Service) SuccessRedirectURL(accessToken, provider string) string {
	if s.redirectURL == "" {
		return ""
	}
	return s.redirectURL +
		"?token=" + url.QueryEscape(accessToken) +
		"&provider=" + url.QueryEscape(provider)
}

func (s *Service) issueTokens(ctx context.Context, acc *Account, device, provider string) (TokenPair, error) {
	access, err := s.issuer.Issue(acc.ID, AccessClaims{
		Email:    acc.Email,
		Role:     acc.Role,
		Provider: provider,
	})
	if err != nil {
		return TokenPair{}, err
	}
	refreshSecret, _, err := s.ledger.Mint(ctx, acc.ID, device, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return s.pair(access, refreshSecret), nil
}

func (s *Service) pair(access, refreshSecret string) TokenPair {
	return TokenPair{
		AccessToken:           access,
		AccessTokenExpiresIn:  int64(s.issuer.TTL() / time.Second),
		RefreshToken:          refreshSecret,
		RefreshTokenExpiresIn: int64(s.refreshTTL / time.Second),
		TokenType:             "Bearer",
	}
}
