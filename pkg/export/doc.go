// Package export provides backup and restore of session results.
//
// # Supported Formats
//
// JSON Format:
//   - Holds the session record, every analysis result and export metadata
//   - Can be re-imported into another TinyFocus instance
//   - Pretty-printed
//
// CSV Format:
//   - One row per analysis result, assessment as a raw JSON column
//   - Suitable for spreadsheets and pandas
//   - Export-only
//
// # HTTP API
//
// Export endpoint: GET /v1/export/{id}?format=json|csv
//
//	curl "http://localhost:8080/v1/export/abc123?format=csv" -o abc123.csv
//
// Import endpoint: POST /v1/import
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @abc123.json
//
// Import validates each result and skips invalid ones rather than failing
// the whole document; the skipped entries are listed in ImportResult.Errors.
// An ended session keeps its end time and final metrics.
package export
