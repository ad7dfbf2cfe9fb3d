package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExportFormat selects the serialization of an export
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// ParseExportFormat returns the format named by s, CSV when s is unknown
func ParseExportFormat(s string) ExportFormat {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case ExportFormatJSON:
		return ExportFormatJSON
	case ExportFormatNDJSON:
		return ExportFormatNDJSON
	default:
		return ExportFormatCSV
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatJSON:
		return "application/json"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "text/csv; charset=utf-8"
	}
}

// ExportRow is one display-ready line handed to spreadsheet or document renderers
type ExportRow struct {
	ID         int64  `json:"id"`
	Action     string `json:"action"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Username   string `json:"username"`
	Timestamp  string `json:"timestamp"`
	IPAddress  string `json:"ipAddress"`
}

// NewExportRow flattens a record for export
func NewExportRow(rec Record) ExportRow {
	row := ExportRow{
		ID:         rec.ID,
		Action:     string(rec.Action),
		EntityType: rec.EntityType,
		Username:   rec.DisplayUsername(),
		Timestamp:  rec.CreatedAt.Format(DateTimeLayout),
	}
	if rec.EntityID != nil {
		row.EntityID = strconv.FormatInt(*rec.EntityID, 10)
	}
	if rec.IPAddress != nil {
		row.IPAddress = *rec.IPAddress
	}
	return row
}

// Export serializes rows in the requested format
func Export(rows []ExportRow, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(rows)
	case ExportFormatNDJSON:
		return exportNDJSON(rows)
	default:
		return exportCSV(rows)
	}
}

// exportJSON exports rows as a JSON array
func exportJSON(rows []ExportRow) ([]byte, error) {
	if rows == nil {
		rows = []ExportRow{}
	}
	return json.MarshalIndent(rows, "", "  ")
}

// exportNDJSON exports rows as newline-delimited JSON
func exportNDJSON(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports rows as CSV with a header line
func exportCSV(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "Action", "EntityType", "EntityID", "Username", "Timestamp", "IPAddress"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.Action,
			row.EntityType,
			row.EntityID,
			row.Username,
			row.Timestamp,
			row.IPAddress,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
