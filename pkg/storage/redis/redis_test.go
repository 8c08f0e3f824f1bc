package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `ns_tracker_data_`, escapeGlob("ns_tracker_data_"))
	require.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}

func TestOpen_EmptyAddr(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

// Runs against a live server when TINYFOCUS_TEST_REDIS_ADDR is set
func TestRedisStore_Live(t *testing.T) {
	addr := os.Getenv("TINYFOCUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TINYFOCUS_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, addr)
	require.NoError(t, err)
	defer s.Close()

	prefix := "tinyfocus_test_" + uuid.NewString() + "_"
	key := prefix + "a"

	require.NoError(t, s.Put(ctx, key, []byte("v"), time.Minute))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	keys, err := s.Keys(ctx, prefix)
	require.NoError(t, err)
	require.Equal(t, []string{key}, keys)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
