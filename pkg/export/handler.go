package export

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/clock"
	"github.com/nicktill/tinyfocus/pkg/httpx"
	"github.com/nicktill/tinyfocus/pkg/results"
)

// maxImportBody bounds an import upload
const maxImportBody = 32 << 20

// Store is what the export endpoints need from the result store
type Store interface {
	Source
	Sink
}

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewHandler creates a new export/import handler
func NewHandler(store Store, clk clock.Clock, log logrus.FieldLogger) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handler{
		exporter: NewExporter(store, clk),
		importer: NewImporter(store, clk),
		clock:    clk,
		log:      log,
	}
}

// HandleExport handles GET /v1/export/{id}?format=json|csv
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	// Probe first so a missing session still gets a JSON 404 before headers go out
	if _, err := h.exporter.source.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, results.ErrSessionNotFound) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	stamp := h.clock.Now().UTC().Format("20060102-150405")
	filename := fmt.Sprintf("tinyfocus-%s-%s.%s", id, stamp, format)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var (
		result *ExportResult
		err    error
	)
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, id)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, id)
	}
	if err != nil {
		// Headers may be out already; the log is all that is left
		h.log.WithError(err).WithField("session_id", id).Error("Export failed")
		return
	}

	h.log.WithFields(logrus.Fields{
		"session_id": id,
		"format":     format,
		"results":    result.ResultsExported,
	}).Info("Session exported")
}

// HandleImport handles POST /v1/import with a JSON export as the body
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		if errors.Is(err, ErrInvalidDocument) || errors.Is(err, ErrNoSession) {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		h.log.WithError(err).Error("Import failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	entry := h.log.WithFields(logrus.Fields{
		"session_id": result.SessionID,
		"results":    result.ResultsImported,
	})
	if len(result.Errors) > 0 {
		entry.WithField("skipped", len(result.Errors)).Warn("Import completed with validation errors")
	} else {
		entry.Info("Session imported")
	}

	httpx.RespondJSON(w, http.StatusOK, result)
}

// RegisterRoutes mounts the endpoints on an /v1 subrouter
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/export/{id}", h.HandleExport).Methods("GET")
	api.HandleFunc("/import", h.HandleImport).Methods("POST")
}
