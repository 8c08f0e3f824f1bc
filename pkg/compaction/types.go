package compaction

import (
	"time"

	"github.com/nicktill/tinyfocus/pkg/config"
)

// Config holds the compaction thresholds
type Config struct {
	// Text fragments closer than this are merged into one text_input
	TextGap time.Duration

	// Minimum spacing between kept content snapshots
	SnapshotMinInterval time.Duration

	// At most ScrollCap scroll events per rolling ScrollWindow
	ScrollCap    int
	ScrollWindow time.Duration

	// Network events closer than this to the previous one are a burst
	NetworkBurstWindow time.Duration

	// Same-kind events closer than this are duplicates
	DuplicateWindow time.Duration

	// A snapshot must match the focused app if focus changed this recently
	ActiveAppWindow time.Duration

	// How many kept app/window keys are remembered for repeat detection
	RecentChangeDepth int

	// Window titles that carry no signal (compared case-insensitively)
	GenericTitles []string
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		TextGap:             config.DefaultTextCoalesceGap,
		SnapshotMinInterval: config.DefaultSnapshotMinInterval,
		ScrollCap:           config.DefaultScrollCapPerMinute,
		ScrollWindow:        config.DefaultScrollWindow,
		NetworkBurstWindow:  config.DefaultNetworkBurstWindow,
		DuplicateWindow:     config.DefaultDuplicateWindow,
		ActiveAppWindow:     config.DefaultActiveAppWindow,
		RecentChangeDepth:   config.DefaultRecentChangeDepth,
		GenericTitles:       defaultGenericTitles,
	}
}

// FromOptions builds a Config from the host-facing option set.
// Thresholds the options don't cover keep their defaults.
func FromOptions(o config.Options) Config {
	cfg := DefaultConfig()
	cfg.TextGap = config.Millis(o.TextCoalesceGapMs)
	cfg.SnapshotMinInterval = config.Millis(o.SnapshotMinIntervalMs)
	cfg.ScrollCap = o.ScrollCapPerMinute
	cfg.NetworkBurstWindow = config.Millis(o.NetworkBurstWindowMs)
	cfg.DuplicateWindow = config.Millis(o.DuplicateSuppressWindowMs)
	return cfg
}

var defaultGenericTitles = []string{
	"untitled",
	"new tab",
	"loading",
	"loading...",
	"about:blank",
	"desktop",
	"finder",
	"program manager",
	"task switching",
	"notification center",
	"control center",
	"start",
	"search",
	"dock",
}

// Drop reasons reported in Stats
const (
	DropMalformed          = "malformed"
	DropEmptyText          = "empty_text"
	DropScrollCap          = "scroll_cap"
	DropTrivialSnapshot    = "trivial_snapshot"
	DropSnapshotInterval   = "snapshot_interval"
	DropGenericTitle       = "generic_title"
	DropBackgroundSnapshot = "background_snapshot"
	DropEnhancedClick      = "enhanced_click"
	DropEmptyClick         = "empty_click"
	DropDuplicateClick     = "duplicate_click"
	DropRepeatFocus        = "repeat_focus"
	DropDuplicate          = "duplicate"
	DropSnapshotDuplicate  = "snapshot_duplicate"
	DropNetworkBurst       = "network_burst"
)

// Stats describes one compaction pass stage by stage
type Stats struct {
	Input          int            `json:"input"`
	AfterFilter    int            `json:"after_filter"`
	AfterText      int            `json:"after_text"`
	AfterSnapshots int            `json:"after_snapshots"`
	Output         int            `json:"output"`
	Merged         int            `json:"merged_text_groups"`
	Dropped        map[string]int `json:"dropped,omitempty"`
}

// Ratio returns input/output, or 0 for an empty pass
func (s Stats) Ratio() float64 {
	if s.Output == 0 {
		return 0
	}
	return float64(s.Input) / float64(s.Output)
}

// DroppedTotal returns how many events the pass discarded, over all rules
func (s Stats) DroppedTotal() int {
	n := 0
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

func (s *Stats) drop(reason string) {
	if s.Dropped == nil {
		s.Dropped = make(map[string]int)
	}
	s.Dropped[reason]++
}
