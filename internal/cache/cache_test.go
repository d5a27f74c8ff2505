package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPlan struct {
	Code     string `json:"code"`
	MaxUsers int    `json:"max_users"`
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	key := GenerateKey(PrefixPlan, "FREE")
	assert.Equal(t, "plan:FREE", key)

	_, found := c.Get(ctx, key)
	assert.False(t, found)

	c.Set(ctx, key, &cachedPlan{Code: "FREE", MaxUsers: 3}, time.Minute)
	value, found := c.Get(ctx, key)
	require.True(t, found)

	p, ok := UnmarshalCacheValue[cachedPlan](value)
	require.True(t, ok)
	assert.Equal(t, 3, p.MaxUsers)

	p.MaxUsers = 99
	value, _ = c.Get(ctx, key)
	again, _ := UnmarshalCacheValue[cachedPlan](value)
	assert.Equal(t, 3, again.MaxUsers)

	c.Delete(ctx, key)
	_, found = c.Get(ctx, key)
	assert.False(t, found)
}

func TestUnmarshalCacheValueFromJSON(t *testing.T) {
	p, ok := UnmarshalCacheValue[cachedPlan](`{"code":"PLUS_MONTHLY","max_users":20}`)
	require.True(t, ok)
	assert.Equal(t, "PLUS_MONTHLY", p.Code)

	_, ok = UnmarshalCacheValue[cachedPlan](42)
	assert.False(t, ok)
	_, ok = UnmarshalCacheValue[cachedPlan](nil)
	assert.False(t, ok)
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c Cache = NoopCache{}
	c.Set(ctx, "k", "v", time.Minute)
	_, found := c.Get(ctx, "k")
	assert.False(t, found)
}
