package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyfocus/pkg/clock"
)

func TestDiskMonitor_Usage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.vlog"), make([]byte, 8192), 0o644))

	m := NewDiskMonitor(dir, 0, clock.NewManual(time.Now()))
	used, err := m.Usage()
	require.NoError(t, err)
	require.Greater(t, used, int64(0))

	st, err := m.Status()
	require.NoError(t, err)
	require.False(t, st.OverLimit)
}

func TestDiskMonitor_Caches(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Now())
	m := NewDiskMonitor(dir, 0, clk)

	first, err := m.Usage()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.sst"), make([]byte, 64<<10), 0o644))
	cached, err := m.Usage()
	require.NoError(t, err)
	require.Equal(t, first, cached)

	clk.Advance(11 * time.Second)
	fresh, err := m.Usage()
	require.NoError(t, err)
	require.Greater(t, fresh, first)
}

func TestDiskMonitor_OverLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big"), make([]byte, 64<<10), 0o644))

	st, err := NewDiskMonitor(dir, 1, nil).Status()
	require.NoError(t, err)
	require.True(t, st.OverLimit)
}

func TestDiskMonitor_MissingDir(t *testing.T) {
	_, err := NewDiskMonitor("/nonexistent/tinyfocus/12345", 0, nil).Usage()
	require.Error(t, err)
}
