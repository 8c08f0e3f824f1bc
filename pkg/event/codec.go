package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingType is returned when a raw event has no type tag
	ErrMissingType = errors.New("event type is required")

	// ErrBadTimestamp is returned when the timestamp is not ISO-8601
	ErrBadTimestamp = errors.New("timestamp must be ISO-8601")
)

// wireEvent is the capture source's JSON shape
type wireEvent struct {
	Timestamp string          `json:"timestamp,omitempty"`
	Type      Kind            `json:"type"`
	App       string          `json:"app,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// UnmarshalJSON decodes {timestamp, type, app?, data?} and selects the payload
// variant from the type tag. A missing timestamp decodes to the zero time.
func (e *RawEvent) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return ErrMissingType
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadTimestamp, w.Timestamp)
		}
		ts = parsed
	}

	payload, err := decodePayload(w.Type, w.Data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Type, err)
	}

	*e = RawEvent{
		Timestamp: ts,
		Type:      w.Type,
		App:       w.App,
		Payload:   payload,
	}
	return nil
}

// MarshalJSON encodes the event back into the capture source's shape
func (e RawEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type: e.Type,
		App:  e.App,
	}
	if !e.Timestamp.IsZero() {
		w.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	var data any
	switch p := e.Payload.(type) {
	case nil:
	case Opaque:
		if len(p.Fields) > 0 {
			data = p.Fields
		}
	default:
		data = p
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	switch kind {
	case KindTextInput, KindTextSelection:
		var p TextPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindClick, KindEnhancedClick:
		var p ClickPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindSnapshot:
		var p SnapshotPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindAppFocus, KindWindowChange, KindPageView:
		var p FocusPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindScroll:
		var p ScrollPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case KindNetwork:
		var p NetworkPayload
		err := json.Unmarshal(data, &p)
		return p, err
	default:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		return Opaque{Fields: fields}, nil
	}
}
