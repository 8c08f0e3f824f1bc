package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/results"
)

// FormatVersion is written into every JSON export
const FormatVersion = "1.0"

// Source is the read side of the result store
type Source interface {
	GetSession(ctx context.Context, id string) (*results.SessionRecord, error)
	ListResults(ctx context.Context, sessionID string) ([]analysis.Result, error)
}

// Exporter writes a session and its analysis results to JSON or CSV
type Exporter struct {
	source Source
	clock  clock.Clock
}

// NewExporter creates a new exporter
func NewExporter(source Source, clk clock.Clock) *Exporter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Exporter{source: source, clock: clk}
}

// ExportResult contains stats about the export operation
type ExportResult struct {
	SessionID       string    `json:"session_id"`
	ResultsExported int       `json:"results_exported"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	ResultCount int       `json:"result_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Data is the JSON export document. Importer reads the same shape.
type Data struct {
	Metadata Metadata               `json:"metadata"`
	Session  *results.SessionRecord `json:"session"`
	Results  []analysis.Result      `json:"results"`
}

func (e *Exporter) load(ctx context.Context, sessionID string) (*results.SessionRecord, []analysis.Result, error) {
	rec, err := e.source.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	list, err := e.source.ListResults(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list results: %w", err)
	}
	if list == nil {
		list = []analysis.Result{}
	}
	return rec, list, nil
}

// ExportToJSON writes the session, its results and export metadata as
// indented JSON.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, sessionID string) (*ExportResult, error) {
	rec, list, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	data := Data{
		Metadata: Metadata{
			ExportedAt:  e.clock.Now().UTC(),
			ResultCount: len(list),
			Format:      "json",
			Version:     FormatVersion,
		},
		Session: rec,
		Results: list,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SessionID:       sessionID,
		ResultsExported: len(list),
		Format:          "json",
		ExportedAt:      data.Metadata.ExportedAt,
	}, nil
}

// CSVHeader is the first row of a CSV export
var CSVHeader = []string{"session_id", "user_id", "chunk_number", "received_at", "assessment"}

// ExportToCSV writes one row per result. The assessment column holds the
// raw JSON document. CSV exports cannot be re-imported.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, sessionID string) (*ExportResult, error) {
	rec, list, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range list {
		row := []string{
			r.SessionID,
			rec.UserID,
			strconv.Itoa(r.ChunkNumber),
			r.ReceivedAt.UTC().Format(time.RFC3339),
			string(r.Assessment),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SessionID:       sessionID,
		ResultsExported: len(list),
		Format:          "csv",
		ExportedAt:      e.clock.Now().UTC(),
	}, nil
}
