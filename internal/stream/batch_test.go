package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-data/adsync/internal/platform"
)

func TestBatchDispatcherFetch(t *testing.T) {
	entry := testEntry("adcreative", "id", "name", "body")

	t.Run("partitions ids into fixed size groups", func(t *testing.T) {
		api := &fakeBatchAPI{}
		account := &fakeAccount{id: "act-1"}
		stats := &RunStats{}
		d := NewBatchDispatcher(api, testStream("adcreative", entry, account, nil), stats, BatchWithSize(2))

		var emitted []Message
		err := d.Fetch(context.Background(),
			[]string{"a", "b", "c", "d", "e"},
			platform.ListParams{}, collect(&emitted))

		assert.NoError(t, err)
		assert.Equal(t, 3, api.batches)
		assert.Len(t, emitted, 5)
		assert.Equal(t, int64(5), stats.RecordsSeen)
	})

	t.Run("single group when ids fit the batch size", func(t *testing.T) {
		api := &fakeBatchAPI{}
		account := &fakeAccount{id: "act-1"}
		d := NewBatchDispatcher(api, testStream("adcreative", entry, account, nil), &RunStats{})

		var emitted []Message
		err := d.Fetch(context.Background(), []string{"a", "b"}, platform.ListParams{}, collect(&emitted))

		assert.NoError(t, err)
		assert.Equal(t, 1, api.batches)
	})

	t.Run("no ids means no batches", func(t *testing.T) {
		api := &fakeBatchAPI{}
		account := &fakeAccount{id: "act-1"}
		d := NewBatchDispatcher(api, testStream("adcreative", entry, account, nil), &RunStats{})

		var emitted []Message
		err := d.Fetch(context.Background(), nil, platform.ListParams{}, collect(&emitted))

		assert.NoError(t, err)
		assert.Equal(t, 0, api.batches)
	})

	t.Run("failure diagnostics name only the failing group", func(t *testing.T) {
		api := &fakeBatchAPI{
			failIDs: map[string]error{"d": &platform.RequestError{Method: "GET", Status: 400}},
		}
		account := &fakeAccount{id: "act-1"}
		d := NewBatchDispatcher(api, testStream("adcreative", entry, account, nil), &RunStats{}, BatchWithSize(2))

		var emitted []Message
		err := d.Fetch(context.Background(),
			[]string{"a", "b", "c", "d", "e"},
			platform.ListParams{}, collect(&emitted))

		require.Error(t, err)

		var syncErr *platform.SyncError
		require.True(t, errors.As(err, &syncErr))
		assert.Equal(t, "c,d", syncErr.Info.ProcessingIDs)
		assert.Equal(t, "adcreative", syncErr.Info.Type)
		assert.Equal(t, "act-1", syncErr.Info.Account)

		// The first group completed, and "c" was dispatched before "d"
		// failed its group.
		assert.Len(t, emitted, 3)
	})
}
