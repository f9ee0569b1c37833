package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "test", time.Minute)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"qty": calls}, nil
	}

	key, err := c.Key(ctx, "godown")
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, out["qty"])

	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, out["qty"])
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key2, err := c.Key(ctx, "godown")
	require.NoError(t, err)
	require.NotEqual(t, key, key2)
	require.NoError(t, c.FetchJSON(ctx, key2, &out, loader))
	require.Equal(t, 2, out["qty"])
}

func TestNilClientFallsThrough(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(nil, "test", time.Minute)
	var out []string
	require.NoError(t, c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) {
		return []string{"a"}, nil
	}))
	require.Equal(t, []string{"a"}, out)
	require.NoError(t, c.Bump(ctx))
	val, err := c.GetString(ctx, "marker")
	require.NoError(t, err)
	require.Empty(t, val)
}

func TestMarkers(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	val, err := c.GetString(ctx, "eod:shop")
	require.NoError(t, err)
	require.Empty(t, val)
	require.NoError(t, c.SetString(ctx, "eod:shop", "2024-05-01"))
	val, err = c.GetString(ctx, "eod:shop")
	require.NoError(t, err)
	require.Equal(t, "2024-05-01", val)
}
