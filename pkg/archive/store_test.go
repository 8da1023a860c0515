package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/cascadegate/pkg/metrics"
)

func TestWriteAndList(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Write(ctx, metrics.Record{
			ID:           id,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Mode:         "text",
			Status:       metrics.StatusAccepted,
			Domain:       "math",
			Escalated:    id == "b",
			Attempts:     1,
			Cost:         0.1,
			BaselineCost: 1,
		}))
	}

	recs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
	assert.True(t, recs[1].Escalated)

	sum, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Escalated)
	assert.InDelta(t, 2.7, sum.Savings, 1e-9)
}

func TestWriteReplacesSameID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, metrics.Record{ID: "x", Status: metrics.StatusFailed}))
	require.NoError(t, store.Write(ctx, metrics.Record{ID: "x", Status: metrics.StatusAccepted}))

	recs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, metrics.StatusAccepted, recs[0].Status)
}

func TestWriteRequiresID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()
	assert.Error(t, store.Write(context.Background(), metrics.Record{}))
}

func TestStoreAsTrackerSink(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	tr := metrics.NewTracker(metrics.WithSink(store))
	tr.Record(context.Background(), metrics.Record{ID: "r1", Mode: "tool", Status: metrics.StatusAccepted})

	recs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "tool", recs[0].Mode)
}
