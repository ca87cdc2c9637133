package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordSubmission(ctx, "q1", "SELECT * FROM sales", t0))
	require.NoError(t, store.RecordTransition(ctx, "q1", "SUBMITTED", t0))
	require.NoError(t, store.RecordTransition(ctx, "q1", "RUNNING", t0.Add(time.Millisecond)))
	require.NoError(t, store.RecordTransition(ctx, "q1", "COMPLETED", t0.Add(3*time.Millisecond)))
	require.NoError(t, store.RecordOutcome(ctx, "q1", 42, ""))

	rec, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", rec.State)
	assert.Equal(t, 42, rec.RowCount)
	require.Len(t, rec.Transitions, 3)
	assert.Equal(t, "SUBMITTED", rec.Transitions[0].State)
	assert.Equal(t, "COMPLETED", rec.Transitions[2].State)
}

func TestMemoryStoreUnknownQuery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "inexistente")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.RecordTransition(ctx, "inexistente", "RUNNING", time.Now()), ErrNotFound)
}

func TestMemoryStoreListRecentOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"q1", "q2", "q3"} {
		require.NoError(t, store.RecordSubmission(ctx, id, "SELECT 1", base.Add(time.Duration(i)*time.Second)))
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "q3", recent[0].QueryID)
	assert.Equal(t, "q2", recent[1].QueryID)

	all, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
