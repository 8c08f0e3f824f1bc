package event

import (
	"strings"
	"time"
)

// Kind is the type tag of an activity event
type Kind string

const (
	KindSessionStart  Kind = "session_start"
	KindSessionEnd    Kind = "session_end"
	KindAppFocus      Kind = "app_focus"
	KindWindowChange  Kind = "window_change"
	KindPageView      Kind = "page_view"
	KindTextInput     Kind = "text_input"
	KindTextSelection Kind = "text_selection"
	KindScroll        Kind = "scroll"
	KindSnapshot      Kind = "content_snapshot"
	KindClick         Kind = "click"
	KindEnhancedClick Kind = "enhanced_click"
	KindNetwork       Kind = "network_request"
	KindKeystroke     Kind = "keystroke"
	KindMouseMove     Kind = "mouse_move"
	KindIdle          Kind = "idle"
)

// IsStructural reports whether the kind marks a session or focus boundary.
func (k Kind) IsStructural() bool {
	switch k {
	case KindSessionStart, KindSessionEnd, KindAppFocus, KindWindowChange, KindPageView:
		return true
	}
	return false
}

// IsFocusChange reports whether the kind moves focus between apps or windows.
func (k Kind) IsFocusChange() bool {
	return k == KindAppFocus || k == KindWindowChange
}

// IsText reports whether the kind carries typed or selected text.
func (k Kind) IsText() bool {
	return k == KindTextInput || k == KindTextSelection
}

// Payload is the type-specific body of a raw event.
// The set of implementations is closed; match on it with a type switch.
type Payload interface {
	isPayload()
}

// TextPayload is carried by text_input and text_selection events
type TextPayload struct {
	Text string `json:"text"`
}

// ClickPayload is carried by click and enhanced_click events
type ClickPayload struct {
	Role  string  `json:"element_role,omitempty"`
	Label string  `json:"element_label,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
}

// SnapshotPayload is a content snapshot of the foreground window
type SnapshotPayload struct {
	Preview string `json:"content_preview,omitempty"`
	Title   string `json:"window_title,omitempty"`
	URL     string `json:"url,omitempty"`
}

// FocusPayload is carried by app_focus, window_change and page_view events
type FocusPayload struct {
	AppName string `json:"app_name,omitempty"`
	Window  string `json:"window_title,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ScrollPayload is carried by scroll events
type ScrollPayload struct {
	DeltaX float64 `json:"delta_x,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`
}

// NetworkPayload is carried by network_request events
type NetworkPayload struct {
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Opaque is the passthrough variant for kinds without a typed payload
type Opaque struct {
	Fields map[string]any
}

func (TextPayload) isPayload()     {}
func (ClickPayload) isPayload()    {}
func (SnapshotPayload) isPayload() {}
func (FocusPayload) isPayload()    {}
func (ScrollPayload) isPayload()   {}
func (NetworkPayload) isPayload()  {}
func (Opaque) isPayload()          {}

// RawEvent is an unprocessed activity record from the capture source.
// Arrival order is authoritative; timestamps are not guaranteed monotonic.
type RawEvent struct {
	Timestamp time.Time
	Type      Kind
	App       string
	Payload   Payload
}

// AppName returns the application the event belongs to, preferring the
// envelope field over the payload.
func (e RawEvent) AppName() string {
	if e.App != "" {
		return e.App
	}
	if p, ok := e.Payload.(FocusPayload); ok {
		return p.AppName
	}
	return ""
}

// OptimizedEvent is a compacted, schema-normalized event sent downstream.
// Each kind fills only its own small set of fields.
type OptimizedEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         Kind      `json:"type"`
	App          string    `json:"app,omitempty"`
	Text         string    `json:"text,omitempty"`
	ElementRole  string    `json:"element_role,omitempty"`
	ElementLabel string    `json:"element_label,omitempty"`
	URL          string    `json:"url,omitempty"`
	Method       string    `json:"method,omitempty"`
	Status       int       `json:"status,omitempty"`
	Title        string    `json:"title,omitempty"`
	Window       string    `json:"window,omitempty"`
	Preview      string    `json:"content_preview,omitempty"`
}

// Optimize projects a raw event onto its downstream field set.
// ok is false when the payload variant does not fit the kind.
func Optimize(e RawEvent) (OptimizedEvent, bool) {
	out := OptimizedEvent{
		Timestamp: e.Timestamp,
		Type:      e.Type,
		App:       e.AppName(),
	}

	switch p := e.Payload.(type) {
	case TextPayload:
		if !e.Type.IsText() {
			return out, false
		}
		out.Text = strings.TrimSpace(p.Text)
	case ClickPayload:
		out.ElementRole = p.Role
		out.ElementLabel = p.Label
	case SnapshotPayload:
		out.Preview = p.Preview
		out.Title = p.Title
		out.URL = p.URL
	case FocusPayload:
		out.Window = p.Window
		out.URL = p.URL
	case NetworkPayload:
		out.URL = p.URL
		out.Method = p.Method
		out.Status = p.Status
	case ScrollPayload, Opaque, nil:
		// type and timestamp only
	default:
		return out, false
	}
	return out, true
}
