package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	require.Equal(t, 10*time.Minute, d.Interval())
	require.Equal(t, 10000, d.EmergencyRawCap)
	require.Equal(t, 10*time.Second, Millis(d.TextCoalesceGapMs))
	require.Equal(t, 45*time.Second, Millis(d.SnapshotMinIntervalMs))
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	o := Defaults()
	o.IntervalMinutes = 0
	require.ErrorContains(t, o.Validate(), "intervalMinutes")

	o = Defaults()
	o.ScrollCapPerMinute = -1
	require.ErrorContains(t, o.Validate(), "scrollCapPerMinute")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TINYFOCUS_INTERVAL_MINUTES", "15")
	t.Setenv("TINYFOCUS_SCROLL_CAP_PER_MINUTE", "not-a-number")

	o := FromEnv()
	require.Equal(t, 15, o.IntervalMinutes)
	require.Equal(t, DefaultScrollCapPerMinute, o.ScrollCapPerMinute)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TINYFOCUS_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TINYFOCUS_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "loaded", EnvStr("TINYFOCUS_TEST_DOTENV", ""))
}
