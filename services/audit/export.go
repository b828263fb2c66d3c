package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services"
)

// ExportFormat selects an audit export serialization.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatCEF  ExportFormat = "cef"
)

// csvColumns is the fixed CSV header. Every row carries all 13 columns;
// absent optional fields are left empty.
var csvColumns = []string{
	"id",
	"timestamp",
	"agent_id",
	"action",
	"permitted",
	"trust_level",
	"required_level",
	"budget_used",
	"budget_remaining",
	"reason",
	"metadata",
	"previous_hash",
	"record_hash",
}

// Export serializes records in the requested format.
func Export(records []models.AuditRecord, format ExportFormat) (string, error) {
	switch format {
	case FormatJSON:
		return exportJSON(records)
	case FormatCSV:
		return exportCSV(records)
	case FormatCEF:
		return exportCEF(records), nil
	default:
		return "", fmt.Errorf("audit: unsupported export format %q: %w", format, services.ErrInvalidInput)
	}
}

// exportJSON renders records as an indented JSON array. An empty slice
// exports as [] rather than null.
func exportJSON(records []models.AuditRecord) (string, error) {
	if records == nil {
		records = []models.AuditRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("audit: encoding json export: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func exportCSV(records []models.AuditRecord) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvColumns); err != nil {
		return "", fmt.Errorf("audit: writing csv header: %w", err)
	}
	for _, record := range records {
		row, err := csvRow(record)
		if err != nil {
			return "", err
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("audit: writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("audit: flushing csv export: %w", err)
	}
	return buf.String(), nil
}

func csvRow(record models.AuditRecord) ([]string, error) {
	metadata := ""
	if record.Metadata != nil {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("audit: encoding metadata for csv: %w", err)
		}
		metadata = string(encoded)
	}
	return []string{
		record.ID,
		record.Timestamp,
		record.AgentID,
		record.Action,
		strconv.FormatBool(record.Permitted),
		formatOptionalInt(record.TrustLevel),
		formatOptionalInt(record.RequiredLevel),
		formatOptionalFloat(record.BudgetUsed),
		formatOptionalFloat(record.BudgetRemaining),
		record.Reason,
		metadata,
		record.PreviousHash,
		record.RecordHash,
	}, nil
}

// exportCEF renders one ArcSight Common Event Format line per record:
// CEF:0|Vendor|Product|Version|SignatureId|Name|Severity|Extension.
// Denied decisions map to severity 7, permitted decisions to 3.
func exportCEF(records []models.AuditRecord) string {
	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, cefLine(record))
	}
	return strings.Join(lines, "\n")
}

func cefLine(record models.AuditRecord) string {
	severity := 3
	outcome := "permitted"
	if !record.Permitted {
		severity = 7
		outcome = "denied"
	}

	extensions := []string{
		"rt=" + escapeCEFExtension(record.Timestamp),
		"src=" + escapeCEFExtension(record.AgentID),
		"act=" + escapeCEFExtension(record.Action),
		"outcome=" + outcome,
		"cs1Label=recordId",
		"cs1=" + escapeCEFExtension(record.ID),
		"cs2Label=previousHash",
		"cs2=" + escapeCEFExtension(record.PreviousHash),
		"cs3Label=recordHash",
		"cs3=" + escapeCEFExtension(record.RecordHash),
	}
	if record.TrustLevel != nil {
		extensions = append(extensions, "cn1Label=trustLevel", "cn1="+strconv.Itoa(*record.TrustLevel))
	}
	if record.RequiredLevel != nil {
		extensions = append(extensions, "cn2Label=requiredLevel", "cn2="+strconv.Itoa(*record.RequiredLevel))
	}
	if record.BudgetUsed != nil {
		extensions = append(extensions, "cn3Label=budgetUsed", "cn3="+formatFloat(*record.BudgetUsed))
	}
	if record.BudgetRemaining != nil {
		extensions = append(extensions, "cn4Label=budgetRemaining", "cn4="+formatFloat(*record.BudgetRemaining))
	}
	if record.Reason != "" {
		extensions = append(extensions, "msg="+escapeCEFExtension(record.Reason))
	}

	return fmt.Sprintf("CEF:0|AgentGate|AuditChain|1.0|%s|%s|%d|%s",
		escapeCEFHeader(record.Action),
		escapeCEFHeader("Governance Decision: "+record.Action),
		severity,
		strings.Join(extensions, " "))
}

// escapeCEFHeader escapes backslashes and pipes, the reserved characters in
// CEF header fields.
func escapeCEFHeader(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, "|", `\|`)
}

// escapeCEFExtension escapes backslashes and equals signs, the reserved
// characters in CEF extension values.
func escapeCEFExtension(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, "=", `\=`)
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
