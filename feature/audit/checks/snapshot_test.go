package checks

import (
	"bytes"
	"context"
	"io"
	"testing"

	"perishable-ledger/core/registry"
	"perishable-ledger/core/snapshot"
	"perishable-ledger/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func listing(keys ...string) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k}
	}
	close(ch)
	return ch
}

func TestCheckSnapshot(t *testing.T) {
	t.Run("Empty archive", func(t *testing.T) {
		client := new(mocks.Client)
		store, err := snapshot.NewStore(client, "b", nil)
		require.NoError(t, err)
		client.On("ListObjects", mock.Anything, "b", mock.Anything).Return(listing())

		report, err := CheckSnapshot(context.Background(), store)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Stored)
		assert.False(t, report.Readable)
	})

	t.Run("Readable", func(t *testing.T) {
		client := new(mocks.Client)
		store, err := snapshot.NewStore(client, "b", nil)
		require.NoError(t, err)
		data, err := store.Encode(registry.State{ClockHours: 12, Containers: []*registry.Container{{ID: "a"}}})
		require.NoError(t, err)

		client.On("ListObjects", mock.Anything, "b", mock.Anything).
			Return(listing("snapshots/100.json.zst", "snapshots/200.json.zst"))
		client.On("GetObject", mock.Anything, "b", "snapshots/200.json.zst", mock.Anything).
			Return(io.NopCloser(bytes.NewReader(data)), nil)

		report, err := CheckSnapshot(context.Background(), store)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Stored)
		assert.Equal(t, "snapshots/200.json.zst", report.Latest)
		assert.True(t, report.Readable)
		assert.Equal(t, 1, report.Containers)
		assert.Equal(t, 12.0, report.ClockHours)
	})

	t.Run("Corrupt", func(t *testing.T) {
		client := new(mocks.Client)
		store, err := snapshot.NewStore(client, "b", nil)
		require.NoError(t, err)
		client.On("ListObjects", mock.Anything, "b", mock.Anything).Return(listing("snapshots/1.json.zst"))
		client.On("GetObject", mock.Anything, "b", "snapshots/1.json.zst", mock.Anything).
			Return(io.NopCloser(bytes.NewReader([]byte("garbage"))), nil)

		report, err := CheckSnapshot(context.Background(), store)
		require.NoError(t, err)
		assert.False(t, report.Readable)
		assert.NotEmpty(t, report.Error)
	})

	t.Run("Not configured", func(t *testing.T) {
		_, err := CheckSnapshot(context.Background(), nil)
		assert.Error(t, err)
	})
}
