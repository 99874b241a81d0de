package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "uid:jdoe")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Person{UID: "jdoe", DN: "uid=jdoe", Email: "jdoe@example.com", ManagerDN: "uid=boss"}
	require.NoError(t, c.Set(ctx, "uid:jdoe", want))

	got, ok, err := c.Get(ctx, "uid:jdoe")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	want.Email = "john.doe@example.com"
	require.NoError(t, c.Set(ctx, "uid:jdoe", want))
	got, _, err = c.Get(ctx, "uid:jdoe")
	require.NoError(t, err)
	assert.Equal(t, "john.doe@example.com", got.Email)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client, time.Hour)
	exerciseCache(t, c)

	assert.True(t, mr.Exists("potoo-mailer:directory:uid:jdoe"))
	mr.FastForward(2 * time.Hour)
	_, ok, err := c.Get(context.Background(), "uid:jdoe")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldap-cache.db")
	c, err := OpenSQLiteCache(context.Background(), path)
	require.NoError(t, err)
	exerciseCache(t, c)
	require.NoError(t, c.Close())

	reopened, err := OpenSQLiteCache(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	got, ok, err := reopened.Get(context.Background(), "uid:jdoe")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "john.doe@example.com", got.Email)
}
