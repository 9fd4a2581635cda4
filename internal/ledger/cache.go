package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "frontier:ledger"

// Cache stores totals reports in Redis under a per-tenant version. Bumping
// the version orphans every report of that tenant; TTL reclaims them.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

func versionKey(tenantID int64) string {
	return fmt.Sprintf("%s:version:%d", cachePrefix, tenantID)
}

// Version returns the tenant's current version, initialising when missing.
func (c *Cache) Version(ctx context.Context, tenantID int64) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Bump is not overwritten.
		if err := c.client.SetNX(ctx, versionKey(tenantID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(tenantID)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached report of the tenant.
func (c *Cache) Bump(ctx context.Context, tenantID int64) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, versionKey(tenantID)).Err()
}

// TotalsKey composes the versioned key for query.
func (c *Cache) TotalsKey(ctx context.Context, query TotalsQuery) (string, error) {
	ver, err := c.Version(ctx, query.TenantID)
	if err != nil {
		return "", err
	}
	return totalsKey(query, ver), nil
}

func totalsKey(query TotalsQuery, version int64) string {
	raw, _ := json.Marshal(query)
	sum := sha1.Sum(raw)
	return fmt.Sprintf("%s:totals:%d:%s:%s", cachePrefix, query.TenantID,
		strconv.FormatInt(version, 10), hex.EncodeToString(sum[:]))
}

// Get loads a cached report. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (Totals, bool, error) {
	if !c.enabled() {
		return Totals{}, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Totals{}, false, nil
	}
	if err != nil {
		return Totals{}, false, err
	}
	var out Totals
	if err := json.Unmarshal(payload, &out); err != nil {
		return Totals{}, false, err
	}
	return out, true, nil
}

// Set stores a report under key for the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, totals Totals) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}
