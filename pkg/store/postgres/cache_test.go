package postgres

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idsync/pkg/store"
	"github.com/platinummonkey/idsync/pkg/store/storetest"
)

func newTestCache(t *testing.T) (*CachedStore, *storetest.MemStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mem := storetest.New()
	return NewCachedStore(mem, client, time.Minute), mem, mr
}

func TestCachedStore_LoadCachesExistingRecords(t *testing.T) {
	cache, mem, mr := newTestCache(t)
	ref := store.RecordRef{Namespace: "users", Name: "ArthurDent"}
	mem.Put(&store.Record{Ref: ref, Fields: map[string]string{"email": "a@x"}})

	rec, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, "a@x", rec.Fields["email"])
	assert.True(t, mr.Exists("record:users:ArthurDent"))

	// A second load is served from the cache even if the backing store
	// changes underneath it.
	mem.Put(&store.Record{Ref: ref, Fields: map[string]string{"email": "changed@x"}})
	cached, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, "a@x", cached.Fields["email"])
}

func TestCachedStore_MissingRecordsNotCached(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ref := store.RecordRef{Namespace: "users", Name: "Nobody"}

	rec, err := cache.Load(ref)
	require.NoError(t, err)
	assert.True(t, rec.IsNew)
	assert.False(t, mr.Exists("record:users:Nobody"))
}

func TestCachedStore_SaveInvalidates(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ref := store.RecordRef{Namespace: "users", Name: "ArthurDent"}

	rec := &store.Record{Ref: ref, Fields: map[string]string{"email": "a@x"}, IsNew: true}
	require.NoError(t, cache.Save(rec))

	_, err := cache.Load(ref)
	require.NoError(t, err)
	assert.True(t, mr.Exists("record:users:ArthurDent"))

	rec.SetField("email", "b@x")
	require.NoError(t, cache.Save(rec))
	assert.False(t, mr.Exists("record:users:ArthurDent"))

	fresh, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, "b@x", fresh.Fields["email"])
}

func TestCachedStore_CreateAccountInvalidates(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ref := store.RecordRef{Namespace: "users", Name: "ArthurDent"}

	// Prime the cache with the miss path first, then create the account.
	_, err := cache.Load(ref)
	require.NoError(t, err)

	code, err := cache.CreateAccount("ArthurDent", map[string]string{"active": "1"}, "users", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, storetest.CreateOK, code)
	assert.False(t, mr.Exists("record:users:ArthurDent"))

	rec, err := cache.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, "1", rec.Fields["active"])
}

func TestCachedStore_PassThroughs(t *testing.T) {
	cache, mem, _ := newTestCache(t)
	ref := store.RecordRef{Namespace: "users", Name: "ArthurDent"}
	mem.Put(&store.Record{
		Ref:    ref,
		Class:  "account",
		Fields: map[string]string{"external_id": "nameid-1"},
	})

	exists, err := cache.Exists(ref)
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := cache.SearchAccountsByProperty("account", "external_id", "nameid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ArthurDent"}, names)

	name, err := cache.ReserveUniqueName("users", "ArthurDent")
	require.NoError(t, err)
	assert.Equal(t, "ArthurDent1", name)
}
