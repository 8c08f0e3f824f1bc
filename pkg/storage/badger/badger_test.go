package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/storage"
)

var _ storage.Store = (*Store)(nil)
var _ storage.GCer = (*Store)(nil)

func TestBadgerStore_PutGetDelete(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tinyfocus_tracker_data_s1", []byte(`{"chunk":1}`), 0))

	got, err := store.Get(ctx, "tinyfocus_tracker_data_s1")
	require.NoError(t, err)
	require.JSONEq(t, `{"chunk":1}`, string(got))

	require.NoError(t, store.Delete(ctx, "tinyfocus_tracker_data_s1"))
	_, err = store.Get(ctx, "tinyfocus_tracker_data_s1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBadgerStore_Keys(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, k := range []string{"ns_tracker_data_b", "ns_tracker_data_a", "zz"} {
		require.NoError(t, store.Put(ctx, k, []byte("{}"), 0))
	}

	keys, err := store.Keys(ctx, "ns_tracker_data_")
	require.NoError(t, err)
	require.Equal(t, []string{"ns_tracker_data_a", "ns_tracker_data_b"}, keys)
}

func TestBadgerStore_TTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for expiry")
	}
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Second))

	_, err = store.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Close())

	store, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, store.RunGC(0.5))
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Put(ctx, "k", []byte("v"), 0), context.Canceled)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}
