package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/session"
)

var (
	// ErrInvalidDocument is returned when the body is not an export document
	ErrInvalidDocument = errors.New("invalid import document")
	// ErrNoSession is returned when an import document carries no session
	ErrNoSession = errors.New("import has no session")
)

// Sink is the write side of the result store
type Sink interface {
	SaveSession(ctx context.Context, sess session.Session) error
	EndSession(ctx context.Context, id string, at time.Time, m session.Metrics) error
	SaveResult(ctx context.Context, r *analysis.Result) error
}

// Importer restores a JSON export into a result store
type Importer struct {
	sink  Sink
	clock clock.Clock
}

// NewImporter creates a new importer
func NewImporter(sink Sink, clk clock.Clock) *Importer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Importer{sink: sink, clock: clk}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SessionID       string    `json:"session_id"`
	ResultsImported int       `json:"results_imported"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON reads a document written by ExportToJSON. Invalid results
// are skipped and reported in ImportResult.Errors.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var data Data
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if data.Session == nil || data.Session.ID == "" {
		return nil, ErrNoSession
	}

	sess := data.Session.Session
	if err := im.sink.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	now := im.clock.Now()
	result := &ImportResult{SessionID: sess.ID}
	for i := range data.Results {
		res := &data.Results[i]
		if err := validateResult(res, sess.ID, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("result %d: %v", i, err))
			continue
		}
		if err := im.sink.SaveResult(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to import chunk %d: %w", res.ChunkNumber, err)
		}
		result.ResultsImported++
	}

	// A session that had ended keeps its end time and final metrics
	if data.Session.EndedAt != nil {
		m := session.NewMetrics()
		if data.Session.Metrics != nil {
			m = *data.Session.Metrics
		}
		if err := im.sink.EndSession(ctx, sess.ID, *data.Session.EndedAt, m); err != nil {
			return nil, err
		}
	}

	result.ImportedAt = now.UTC()
	return result, nil
}

func validateResult(r *analysis.Result, sessionID string, now time.Time) error {
	if r.SessionID == "" {
		r.SessionID = sessionID
	}
	if r.SessionID != sessionID {
		return fmt.Errorf("belongs to session %q", r.SessionID)
	}
	if r.ChunkNumber < 1 {
		return fmt.Errorf("invalid chunk number %d", r.ChunkNumber)
	}
	if r.ReceivedAt.IsZero() {
		return fmt.Errorf("received_at cannot be zero")
	}
	if r.ReceivedAt.After(now.Add(24 * time.Hour)) {
		return fmt.Errorf("received_at too far in future: %s", r.ReceivedAt)
	}
	if len(r.Assessment) == 0 || !json.Valid(r.Assessment) {
		return fmt.Errorf("assessment is not valid JSON")
	}
	return nil
}
