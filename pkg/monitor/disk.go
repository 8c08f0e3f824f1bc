package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/tinyfocus/pkg/clock"
)

// How long a directory scan is reused
const diskCacheTTL = 10 * time.Second

// DiskMonitor reports how much disk the data directory uses.
// Scans are cached since walking badger's value logs is not free.
type DiskMonitor struct {
	dir      string
	maxBytes int64
	clock    clock.Clock

	mu        sync.Mutex
	cached    int64
	lastCheck time.Time
}

// DiskStatus is the API view of the monitor
type DiskStatus struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes,omitempty"`
	OverLimit bool  `json:"over_limit"`
}

// NewDiskMonitor watches dir. maxBytes <= 0 means no limit.
func NewDiskMonitor(dir string, maxBytes int64, clk clock.Clock) *DiskMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &DiskMonitor{dir: dir, maxBytes: maxBytes, clock: clk}
}

// Usage returns the allocated size of dir in bytes
func (m *DiskMonitor) Usage() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < diskCacheTTL {
		return m.cached, nil
	}

	used, err := dirSize(m.dir)
	if err != nil {
		return 0, err
	}
	m.cached = used
	m.lastCheck = now
	return used, nil
}

// Status returns usage against the limit
func (m *DiskMonitor) Status() (DiskStatus, error) {
	used, err := m.Usage()
	if err != nil {
		return DiskStatus{}, err
	}
	return DiskStatus{
		UsedBytes: used,
		MaxBytes:  m.maxBytes,
		OverLimit: m.maxBytes > 0 && used > m.maxBytes,
	}, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += allocatedSize(path, info)
		return nil
	})
	return total, err
}
