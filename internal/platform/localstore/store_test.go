package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, ttl)
	require.NoError(t, err)
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := setupRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart-1", "cart", []byte(`[{"quantity":2}]`)))
	assert.True(t, mr.Exists("storefront:cart-1:cart"))
	assert.Equal(t, time.Duration(0), mr.TTL("storefront:cart-1:cart"))

	got, err := store.Get(ctx, "cart-1", "cart")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"quantity":2}]`, string(got))

	_, err = store.Get(ctx, "cart-2", "cart")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "cart-1", "cart"))
	_, err = store.Get(ctx, "cart-1", "cart")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart-1", "referralCode", []byte("LUCA10")))
	assert.Equal(t, time.Hour, mr.TTL("storefront:cart-1:referralCode"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "cart-1", "referralCode")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreReportsBackendErrors(t *testing.T) {
	store, mr := setupRedisStore(t, 0)
	mr.Close()

	_, err := store.Get(context.Background(), "cart-1", "cart")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, store.Ping(context.Background()))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "storefront.json")
	ctx := context.Background()

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "default", "cart", []byte(`[]`)))
	require.NoError(t, first.Set(ctx, "default", "referralCode", []byte("LUCA10")))

	second, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := second.Get(ctx, "default", "referralCode")
	require.NoError(t, err)
	assert.Equal(t, "LUCA10", string(got))

	require.NoError(t, second.Delete(ctx, "default", "referralCode"))
	_, err = first.Get(ctx, "default", "referralCode")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, second.Delete(ctx, "missing", "cart"))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "default", "cart")
	assert.Error(t, err)
}

func incrementCounter(current []byte, found bool) ([]byte, error) {
	n := 0
	if found {
		var err error
		if n, err = strconv.Atoi(string(current)); err != nil {
			return nil, err
		}
	}
	return []byte(strconv.Itoa(n + 1)), nil
}

func TestRedisStoreUpdateSerialisesWriters(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Update(ctx, "cart-1", "counter", incrementCounter)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "cart-1", "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(writers), string(got))
}

func TestRedisStoreUpdateRetriesAfterForeignWrite(t *testing.T) {
	store, mr := setupRedisStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "cart-1", "counter", []byte("1")))

	calls := 0
	err := store.Update(ctx, "cart-1", "counter", func(current []byte, found bool) ([]byte, error) {
		calls++
		if calls == 1 {
			// Another replica writes between our read and our commit.
			require.NoError(t, mr.Set("storefront:cart-1:counter", "10"))
		}
		return incrementCounter(current, found)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	got, err := store.Get(ctx, "cart-1", "counter")
	require.NoError(t, err)
	assert.Equal(t, "11", string(got))
}

func TestRedisStoreUpdateAbortKeepsValue(t *testing.T) {
	store, _ := setupRedisStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "cart-1", "counter", []byte("3")))

	boom := errors.New("boom")
	err := store.Update(ctx, "cart-1", "counter", func([]byte, bool) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "cart-1", "counter")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))
}

func TestFileStoreUpdate(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "storefront.json"))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(ctx, "default", "counter", incrementCounter))
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "default", "counter")
	require.NoError(t, err)
	assert.Equal(t, "10", string(got))
}
