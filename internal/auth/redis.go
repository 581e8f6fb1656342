package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sportshub.org/internal/ids"
)

var _ Ledger = (*RedisLedger)(nil)

const (
	recordKeyPrefix  = "auth:rt:"
	accountKeyPrefix = "auth:rta:"
)

// rotateScript performs the check-revoke-mint step of a rotation as one
// atomic unit. Return codes: 0 not found, 1 inactive, 2 rotated (followed
// by the owning account id).
var rotateScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cur = redis.call("HMGET", KEYS[1], "account", "revoked", "expires")
if not cur[1] then
  return {0}
end
local revoked = tonumber(cur[2]) or 0
local expires = tonumber(cur[3]) or 0
if revoked ~= 0 or (expires ~= 0 and expires <= now) then
  return {1}
end
redis.call("HSET", KEYS[1], "revoked", now)
redis.call("HSET", KEYS[2], "id", ARGV[2], "account", cur[1], "device", ARGV[3], "created", now, "expires", ARGV[4], "revoked", 0)
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[5]))
local idx = ARGV[6] .. cur[1]
redis.call("SADD", idx, ARGV[7])
redis.call("EXPIRE", idx, tonumber(ARGV[5]))
return {2, cur[1]}
`)

var revokeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local revoked = tonumber(redis.call("HGET", KEYS[1], "revoked")) or 0
if revoked == 0 then
  redis.call("HSET", KEYS[1], "revoked", tonumber(ARGV[1]))
end
return 1
`)

var revokeAllScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, h in ipairs(members) do
  local key = ARGV[2] .. h
  if redis.call("EXISTS", key) == 1 then
    local cur = tonumber(redis.call("HGET", key, "revoked")) or 0
    local expires = tonumber(redis.call("HGET", key, "expires")) or 0
    if cur == 0 and (expires == 0 or expires > now) then
      redis.call("HSET", key, "revoked", now)
      revoked = revoked + 1
    end
  else
    redis.call("SREM", KEYS[1], h)
  end
end
return revoked
`)

// RedisLedger implements the refresh ledger on Redis. Each record lives in
// a hash keyed by the secret's SHA-256; a per-account set indexes hashes
// for bulk revocation. Record keys carry a TTL equal to the refresh
// lifetime, so an evicted record reads as unknown, which callers treat the
// same as inactive.
type RedisLedger struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

func recordKey(tokenHash string) string  { return recordKeyPrefix + tokenHash }
func accountKey(accountID string) string { return accountKeyPrefix + accountID }

func (r *RedisLedger) Mint(ctx context.Context, accountID, device string, ttl time.Duration) (string, *RefreshRecord, error) {
	secret, err := NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	now := r.now().UTC()
	rec := &RefreshRecord{
		ID:        ids.New(),
		AccountID: accountID,
		TokenHash: HashSecret(secret),
		ExpiresAt: now.Add(ttl),
		Device:    device,
		CreatedAt: now,
	}
	pipe := r.client.TxPipeline()
	key := recordKey(rec.TokenHash)
	pipe.HSet(ctx, key,
		"id", rec.ID,
		"account", rec.AccountID,
		"device", rec.Device,
		"created", now.Unix(),
		"expires", rec.ExpiresAt.Unix(),
		"revoked", 0,
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, accountKey(accountID), rec.TokenHash)
	pipe.Expire(ctx, accountKey(accountID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, err
	}
	return secret, rec, nil
}

func (r *RedisLedger) Find(ctx context.Context, secret string) (*RefreshRecord, error) {
	tokenHash := HashSecret(secret)
	fields, err := r.client.HGetAll(ctx, recordKey(tokenHash)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(tokenHash, fields)
}

func (r *RedisLedger) FindActive(ctx context.Context, secret string) (*RefreshRecord, error) {
	rec, err := r.Find(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !rec.Active(r.now()) {
		return nil, ErrTokenInactive
	}
	return rec, nil
}

func (r *RedisLedger) Rotate(ctx context.Context, secret, device string, ttl time.Duration) (string, *RefreshRecord, error) {
	newSecret, err := NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	now := r.now().UTC()
	rec := &RefreshRecord{
		ID:        ids.New(),
		TokenHash: HashSecret(newSecret),
		ExpiresAt: now.Add(ttl),
		Device:    device,
		CreatedAt: now,
	}
	res, err := rotateScript.Run(ctx, r.client,
		[]string{recordKey(HashSecret(secret)), recordKey(rec.TokenHash)},
		now.Unix(), rec.ID, rec.Device, rec.ExpiresAt.Unix(), int64(ttl/time.Second),
		accountKeyPrefix, rec.TokenHash,
	).Result()
	if err != nil {
		return "", nil, err
	}
	arr, ok := res.([]any)
	if !ok || len(arr) == 0 {
		return "", nil, fmt.Errorf("auth: unexpected rotate reply %v", res)
	}
	status, _ := arr[0].(int64)
	switch status {
	case 0:
		return "", nil, ErrNotFound
	case 1:
		return "", nil, ErrTokenInactive
	case 2:
		accountID, _ := arr[1].(string)
		rec.AccountID = accountID
		return newSecret, rec, nil
	default:
		return "", nil, fmt.Errorf("auth: unexpected rotate status %d", status)
	}
}

func (r *RedisLedger) Revoke(ctx context.Context, secret string) error {
	return revokeScript.Run(ctx, r.client,
		[]string{recordKey(HashSecret(secret))}, r.now().Unix(),
	).Err()
}

func (r *RedisLedger) RevokeAllForAccount(ctx context.Context, accountID string) error {
	return revokeAllScript.Run(ctx, r.client,
		[]string{accountKey(accountID)}, r.now().Unix(), recordKeyPrefix,
	).Err()
}

func recordFromFields(tokenHash string, fields map[string]string) (*RefreshRecord, error) {
	rec := &RefreshRecord{
		ID:        fields["id"],
		AccountID: fields["account"],
		TokenHash: tokenHash,
		Device:    fields["device"],
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth: corrupt refresh record: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth: corrupt refresh record: %w", err)
	}
	if expires != 0 {
		rec.ExpiresAt = time.Unix(expires, 0).UTC()
	}
	if raw := fields["revoked"]; raw != "" && raw != "0" {
		revoked, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("auth: corrupt refresh record: %w", err)
		}
		rec.RevokedAt = time.Unix(revoked, 0).UTC()
	}
	return rec, nil
}
