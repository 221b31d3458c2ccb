package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/paw2paw/hf-pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStack_CacheTTL(t *testing.T) {
	ctx := context.Background()
	put := func(t *testing.T, st *store.Store, slug string) {
		t.Helper()
		require.NoError(t, st.PutSpec(ctx, spec.Record{Slug: slug, OutputType: spec.OutputAggregate, IsActive: true}))
	}
	open := func(t *testing.T, ttl *time.Duration) *Stack {
		t.Helper()
		st, err := store.NewStore(filepath.Join(t.TempDir(), "wire.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		stack, err := NewStack(st, StackOptions{CacheTTL: ttl})
		require.NoError(t, err)
		require.NotNil(t, stack.Orchestrator)
		return stack
	}

	t.Run("zero disables caching", func(t *testing.T) {
		zero := time.Duration(0)
		stack := open(t, &zero)
		put(t, stack.Store, "AGG-1")
		active, err := stack.Registry.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)

		put(t, stack.Store, "AGG-2")
		active, err = stack.Registry.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 2, "edits are visible immediately")
	})

	t.Run("unset uses the default ttl", func(t *testing.T) {
		stack := open(t, nil)
		put(t, stack.Store, "AGG-1")
		_, err := stack.Registry.ListActive(ctx)
		require.NoError(t, err)

		put(t, stack.Store, "AGG-2")
		active, err := stack.Registry.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1, "cached until the ttl or an invalidate")
	})
}
