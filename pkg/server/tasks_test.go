package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/logger"
	"github.com/nicktill/tinyfocus/pkg/storage"
	"github.com/nicktill/tinyfocus/pkg/storage/memory"
)

// noGC hides the memory store's RunGC
type noGC struct {
	storage.Store
}

func TestRunStoreGC_ReclaimsExpired(t *testing.T) {
	clk := clock.NewManual(time.Now())
	store := memory.NewWithClock(clk)
	require.NoError(t, store.Put(context.Background(), "k", []byte("v"), time.Second))
	clk.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStoreGC(ctx, store, 10*time.Millisecond, logger.Discard())
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestRunStoreGC_SkipsStoresWithoutGC(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunStoreGC(context.Background(), noGC{memory.New()}, time.Millisecond, logger.Discard())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunStoreGC should return immediately for stores without GC")
	}
}
