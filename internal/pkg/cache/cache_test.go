package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNXClaimsOnce(t *testing.T) {
	c := NewMemory("svc")
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "k", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first claim must win")

	ok, err = c.SetNX(ctx, "k", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestDeleteReleasesClaim(t *testing.T) {
	c := NewMemory("svc")
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "k", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"), "deleting an absent key is not an error")

	ok, err = c.SetNX(ctx, "k", "2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a released key can be claimed again")
}

func TestExpiredEntriesAreAbsent(t *testing.T) {
	c := NewMemory("svc")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "1", time.Millisecond))
	assert.Eventually(t, func() bool {
		v, err := c.Get(ctx, "k")
		return err == nil && v == ""
	}, time.Second, 5*time.Millisecond)
}

func TestGenerateKey(t *testing.T) {
	c := NewMemory("svc")
	assert.Equal(t, "svc:processed:o-1", c.GenerateKey("processed", "o-1"))
}
