package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client)
}

func TestRedisLedgerMintAndFind(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	secret, rec, err := ledger.Mint(ctx, "acct-1", "phone", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if rec.TokenHash != HashSecret(secret) {
		t.Fatalf("record hash does not match minted secret")
	}

	got, err := ledger.FindActive(ctx, secret)
	if err != nil {
		t.Fatalf("FindActive: %v", err)
	}
	if got.AccountID != "acct-1" || got.Device != "phone" || got.ID != rec.ID {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Active(time.Now()) {
		t.Fatalf("freshly minted record must be active")
	}

	if _, err := ledger.FindActive(ctx, "no-such-secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisLedgerRotateSingleUse(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	secret, _, err := ledger.Mint(ctx, "acct-1", "", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	newSecret, rec, err := ledger.Rotate(ctx, secret, "laptop", time.Hour)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newSecret == secret {
		t.Fatalf("rotation must mint a fresh secret")
	}
	if rec.AccountID != "acct-1" {
		t.Fatalf("rotated record owned by %q", rec.AccountID)
	}

	// The consumed secret is permanently unusable.
	if _, _, err := ledger.Rotate(ctx, secret, "", time.Hour); !errors.Is(err, ErrTokenInactive) {
		t.Fatalf("expected ErrTokenInactive on reuse, got %v", err)
	}
	if _, err := ledger.FindActive(ctx, secret); !errors.Is(err, ErrTokenInactive) {
		t.Fatalf("expected ErrTokenInactive, got %v", err)
	}

	// The replacement works.
	if _, err := ledger.FindActive(ctx, newSecret); err != nil {
		t.Fatalf("FindActive(new): %v", err)
	}
}

func TestRedisLedgerRotateRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	secret, _, err := ledger.Mint(ctx, "acct-race", "", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _, err := ledger.Rotate(ctx, secret, "", time.Hour)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenInactive), errors.Is(err, ErrNotFound):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestRedisLedgerRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	secret, _, err := ledger.Mint(ctx, "acct-1", "", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := ledger.Revoke(ctx, secret); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	rec, err := ledger.Find(ctx, secret)
	if err != nil {
		t.Fatalf("Find after revoke: %v", err)
	}
	firstRevokedAt := rec.RevokedAt
	if firstRevokedAt.IsZero() {
		t.Fatalf("revocation timestamp not set")
	}

	// A second revoke has the same effect.
	if err := ledger.Revoke(ctx, secret); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	rec, err = ledger.Find(ctx, secret)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !rec.RevokedAt.Equal(firstRevokedAt) {
		t.Fatalf("revocation timestamp must be set exactly once")
	}

	// Unknown secrets are not an error.
	if err := ledger.Revoke(ctx, "no-such-secret"); err != nil {
		t.Fatalf("Revoke unknown: %v", err)
	}
}

func TestRedisLedgerRevokeAllForAccount(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	var secrets []string
	for i := 0; i < 3; i++ {
		secret, _, err := ledger.Mint(ctx, "acct-1", "", time.Hour)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		secrets = append(secrets, secret)
	}
	other, _, err := ledger.Mint(ctx, "acct-2", "", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := ledger.RevokeAllForAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("RevokeAllForAccount: %v", err)
	}
	for _, secret := range secrets {
		if _, err := ledger.FindActive(ctx, secret); !errors.Is(err, ErrTokenInactive) {
			t.Fatalf("expected ErrTokenInactive, got %v", err)
		}
	}
	// Other accounts are untouched.
	if _, err := ledger.FindActive(ctx, other); err != nil {
		t.Fatalf("FindActive(other): %v", err)
	}
}

func TestRedisLedgerLazyExpiry(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	base := time.Now().UTC()
	ledger.now = func() time.Time { return base }
	secret, _, err := ledger.Mint(ctx, "acct-1", "", time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	ledger.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := ledger.FindActive(ctx, secret); !errors.Is(err, ErrTokenInactive) {
		t.Fatalf("expected ErrTokenInactive after expiry, got %v", err)
	}
	if _, _, err := ledger.Rotate(ctx, secret, "", time.Minute); !errors.Is(err, ErrTokenInactive) {
		t.Fatalf("expected ErrTokenInactive rotating expired record, got %v", err)
	}
}
