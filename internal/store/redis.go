package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/model"
)

// CachedDirectory wraps a primary AccountDirectory (PostgreSQL) with a Redis
// read-through cache. Account profiles are immutable once created, so a
// cached profile is never invalidated; the TTL only bounds memory.
type CachedDirectory struct {
	primary AccountDirectory
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedDirectory creates a cached wrapper around a primary directory.
func NewCachedDirectory(primary AccountDirectory, rdb *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (d *CachedDirectory) AccountProfile(ctx context.Context, t model.AccountType, entityID, currency string) (model.AccountProfile, error) {
	key := profileKey(account.Format(t, entityID, currency))

	// Try cache.
	data, err := d.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.AccountProfile
		if json.Unmarshal(data, &p) == nil {
			return p, nil
		}
	}

	// Cache miss: read (and lazily create) in primary.
	p, err := d.primary.AccountProfile(ctx, t, entityID, currency)
	if err != nil {
		return model.AccountProfile{}, err
	}

	if data, err := json.Marshal(p); err == nil {
		d.rdb.Set(ctx, key, data, d.ttl)
	}
	return p, nil
}

func profileKey(code string) string { return fmt.Sprintf("account:%s", code) }
