package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := NewRedisStoreFromClient(context.Background(), rdb, "test")
	require.NoError(t, err)
	return s, mr
}

func TestRedisStore_SaveGetUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	id, err := s.Save(ctx, sampleRecord(""))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	first, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "diagnostic", first.Mode)
	require.Len(t, first.Messages, 2)
	require.Equal(t, "high", first.Messages[1].Metadata.ConfidenceLevel)

	rec := sampleRecord(id)
	rec.Turn = 2
	id2, err := s.Save(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, got.Turn)
	require.True(t, got.StartedAt.Equal(first.StartedAt))

	_, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Save(ctx, sampleRecord(id))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	mr.Del(s.recordKey("b"))

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "c", list[0].ID)
	require.Equal(t, "a", list[1].ID)

	members, err := mr.ZMembers(s.recentKey())
	require.NoError(t, err)
	require.NotContains(t, members, "b")
}

func TestRedisStore_EndKeepsTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	s.ttl = time.Hour

	require.ErrorIs(t, s.End(ctx, "missing"), ErrNotFound)

	id, err := s.Save(ctx, sampleRecord(""))
	require.NoError(t, err)
	require.NoError(t, s.End(ctx, id))
	require.Equal(t, time.Hour, mr.TTL(s.recordKey(id)))

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.Ended())
	ended := *rec.EndedAt

	require.NoError(t, s.End(ctx, id))
	_, err = s.Save(ctx, sampleRecord(id))
	require.NoError(t, err)
	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
	require.True(t, rec.EndedAt.Equal(ended))
}
