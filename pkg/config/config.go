package config

import (
	"fmt"
	"time"
)

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageMB = 1024
	DefaultNamespace    = "tinyfocus"
	DefaultStore        = "badger"
)

// Interval batching
const (
	DefaultIntervalMinutes = 10
	DefaultEmergencyRawCap = 10000
)

// Compaction thresholds
const (
	DefaultTextCoalesceGap     = 10 * time.Second
	DefaultSnapshotMinInterval = 45 * time.Second
	DefaultScrollCapPerMinute  = 2
	DefaultScrollWindow        = 60 * time.Second
	DefaultNetworkBurstWindow  = 2 * time.Second
	DefaultDuplicateWindow     = 2 * time.Second
	DefaultActiveAppWindow     = 5 * time.Second
	DefaultRecentChangeDepth   = 3
)

// Persistence
const (
	AutosaveInterval   = 30 * time.Second
	SnapshotMaxAge     = 24 * time.Hour
	SnapshotRawTail    = 100
	BadgerGCInterval   = 10 * time.Minute
	StoreOpTimeout     = 5 * time.Second
	NotificationBuffer = 64
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Options are the recognized pipeline options, named the way the capture
// host passes them.
type Options struct {
	IntervalMinutes           int `json:"intervalMinutes"`
	EmergencyRawCap           int `json:"emergencyRawCap"`
	TextCoalesceGapMs         int `json:"textCoalesceGapMs"`
	SnapshotMinIntervalMs     int `json:"snapshotMinIntervalMs"`
	ScrollCapPerMinute        int `json:"scrollCapPerMinute"`
	NetworkBurstWindowMs      int `json:"networkBurstWindowMs"`
	DuplicateSuppressWindowMs int `json:"duplicateSuppressWindowMs"`
}

// Defaults returns the stock option set
func Defaults() Options {
	return Options{
		IntervalMinutes:           DefaultIntervalMinutes,
		EmergencyRawCap:           DefaultEmergencyRawCap,
		TextCoalesceGapMs:         int(DefaultTextCoalesceGap / time.Millisecond),
		SnapshotMinIntervalMs:     int(DefaultSnapshotMinInterval / time.Millisecond),
		ScrollCapPerMinute:        DefaultScrollCapPerMinute,
		NetworkBurstWindowMs:      int(DefaultNetworkBurstWindow / time.Millisecond),
		DuplicateSuppressWindowMs: int(DefaultDuplicateWindow / time.Millisecond),
	}
}

// Validate rejects non-positive values
func (o Options) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"intervalMinutes", o.IntervalMinutes},
		{"emergencyRawCap", o.EmergencyRawCap},
		{"textCoalesceGapMs", o.TextCoalesceGapMs},
		{"snapshotMinIntervalMs", o.SnapshotMinIntervalMs},
		{"scrollCapPerMinute", o.ScrollCapPerMinute},
		{"networkBurstWindowMs", o.NetworkBurstWindowMs},
		{"duplicateSuppressWindowMs", o.DuplicateSuppressWindowMs},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("invalid option %s: %d (must be > 0)", c.name, c.value)
		}
	}
	return nil
}

// Interval returns the flush interval as a duration
func (o Options) Interval() time.Duration {
	return time.Duration(o.IntervalMinutes) * time.Minute
}

// Millis converts a millisecond option to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
