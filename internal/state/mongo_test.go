package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func TestNewMongoStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// nil logger and a dead endpoint: construction must fail cleanly,
	// not panic.
	store, err := NewMongoStore(ctx, "mongodb://127.0.0.1:1", "adsync", "state", nil)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestIntegrationMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate mongoContainer: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := NewMongoStore(ctx, uri, "adsync", "state", nil)
	require.NoError(t, err)
	defer store.Close(ctx)

	t.Run("missing state loads as nil", func(t *testing.T) {
		doc, err := store.Load(ctx, "act-404")
		assert.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		doc := Document{
			"ads":          {"updated_time": "2024-01-05T00:00:00Z"},
			"ads_insights": {"date_start": "2024-01-04T00:00:00Z"},
		}
		require.NoError(t, store.Save(ctx, "act-123", doc))

		loaded, err := store.Load(ctx, "act-123")
		assert.NoError(t, err)
		assert.Equal(t, doc, loaded)
	})

	t.Run("save replaces the previous document", func(t *testing.T) {
		doc := Document{"ads": {"updated_time": "2024-02-01T00:00:00Z"}}
		require.NoError(t, store.Save(ctx, "act-123", doc))

		loaded, err := store.Load(ctx, "act-123")
		assert.NoError(t, err)
		assert.Equal(t, doc, loaded)
	})
}
