package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idsync/pkg/store"
)

// CachedStore is a Redis read-through cache over a RecordStore. Loads of
// existing records are cached; anything that can change a record (Save,
// CreateAccount) invalidates its key. Missing records are never cached so a
// concurrent creation becomes visible on the next load.
type CachedStore struct {
	inner store.RecordStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedStore creates a Redis cache layer over the given store.
func NewCachedStore(inner store.RecordStore, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, redis: client, ttl: ttl}
}

func recordKey(ref store.RecordRef) string {
	return fmt.Sprintf("record:%s:%s", ref.Namespace, ref.Name)
}

// Exists passes through to the underlying store.
func (c *CachedStore) Exists(ref store.RecordRef) (bool, error) {
	return c.inner.Exists(ref)
}

// Load gets a record with caching.
func (c *CachedStore) Load(ref store.RecordRef) (*store.Record, error) {
	ctx := context.Background()

	cached, err := c.redis.Get(ctx, recordKey(ref)).Result()
	if err == nil {
		var rec store.Record
		if err := json.Unmarshal([]byte(cached), &rec); err == nil {
			return &rec, nil
		}
	}

	rec, err := c.inner.Load(ref)
	if err != nil {
		return nil, err
	}

	if !rec.IsNew {
		if data, err := json.Marshal(rec); err == nil {
			c.redis.Set(ctx, recordKey(ref), data, c.ttl)
		}
	}

	return rec, nil
}

// Save persists the record and invalidates its cache entry.
func (c *CachedStore) Save(rec *store.Record) error {
	if err := c.inner.Save(rec); err != nil {
		return err
	}
	c.redis.Del(context.Background(), recordKey(rec.Ref))
	return nil
}

// SearchAccountsByProperty passes through to the underlying store. Lookup
// results are not cached: a stale hit here could resurrect a deleted account
// or miss one created moments ago.
func (c *CachedStore) SearchAccountsByProperty(class, property, value string) ([]string, error) {
	return c.inner.SearchAccountsByProperty(class, property, value)
}

// CreateAccount creates the account and invalidates its cache entry.
func (c *CachedStore) CreateAccount(name string, fields map[string]string, parent string, body, syntax, rights string) (int, error) {
	code, err := c.inner.CreateAccount(name, fields, parent, body, syntax, rights)
	if code == CreateOK && err == nil {
		c.redis.Del(context.Background(), recordKey(store.RecordRef{Namespace: parent, Name: name}))
	}
	return code, err
}

// ReserveUniqueName passes through to the underlying store; name reservation
// must always see current state.
func (c *CachedStore) ReserveUniqueName(namespace, candidate string) (string, error) {
	return c.inner.ReserveUniqueName(namespace, candidate)
}
