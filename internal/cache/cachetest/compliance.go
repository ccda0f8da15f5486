// Package cachetest holds the behaviour every cache backend must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/cache"
)

// RunCompliance exercises set/get/overwrite/delete against c.
func RunCompliance(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute))
		val, found, err := c.Get(ctx, "compliance-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "compliance-val", string(val))
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "overwrite-key", []byte("v1"), time.Minute))
		require.NoError(t, c.Set(ctx, "overwrite-key", []byte("v2"), time.Minute))
		val, found, err := c.Get(ctx, "overwrite-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v2", string(val))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "delete-key", []byte("gone"), time.Minute))
		require.NoError(t, c.Delete(ctx, "delete-key"))
		_, found, err := c.Get(ctx, "delete-key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "never-set"))
	})
}
