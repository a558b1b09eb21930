package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewStore(client, ttl, logger), mr
}

func TestMarkAndGet(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	account := store.RecordRef{Namespace: "users", Name: "ArthurDent"}

	id, err := s.Mark(context.Background(), account, "nameid-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sess, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, account, sess.Account)
	assert.Equal(t, "nameid-1", sess.NameID)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	_, err := s.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_Expired(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)

	id, err := s.Mark(context.Background(), store.RecordRef{Namespace: "users", Name: "ArthurDent"}, "nameid-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	id, err := s.Mark(context.Background(), store.RecordRef{Namespace: "users", Name: "ArthurDent"}, "nameid-1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), id))
	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(context.Background(), id))
}

func TestCount(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 0; i < 3; i++ {
		_, err := s.Mark(ctx, store.RecordRef{Namespace: "users", Name: "ArthurDent"}, "nameid-1")
		require.NoError(t, err)
	}

	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	mr.FastForward(2 * time.Minute)
	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
