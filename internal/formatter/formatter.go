// package formatter renders queued submissions as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// ParseFormat validates a format name. "md" and "text" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (json, csv, markdown, txt)", shared.ErrInvalidArgument, s)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// fieldColumns returns the union of field names across records, sorted.
func fieldColumns(records []*models.SubmissionRecord) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for _, name := range r.FieldNames() {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func syncedLabel(r *models.SubmissionRecord) string {
	if r.Synced() {
		return "synced"
	}
	return "pending"
}

// ExportToCSV converts records to CSV with columns ID, Timestamp, Category, Synced, Attempts followed by one
// column per form field.
func ExportToCSV(records []*models.SubmissionRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	fields := fieldColumns(records)
	headers := append([]string{"ID", "Timestamp", "Category", "Synced", "Attempts"}, fields...)
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range records {
		row := []string{
			r.ID(),
			r.Timestamp().Format(time.RFC3339),
			string(r.Category()),
			strconv.FormatBool(r.Synced()),
			strconv.Itoa(r.Attempts()),
		}
		for _, name := range fields {
			row = append(row, r.Field(name))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts records to a Markdown document with one section per record
func ExportToMarkdown(title string, records []*models.SubmissionRecord) ([]byte, error) {
	var buf bytes.Buffer

	pending := 0
	for _, r := range records {
		if !r.Synced() {
			pending++
		}
	}

	buf.WriteString(fmt.Sprintf("# %s\n\n", title))
	buf.WriteString(fmt.Sprintf("**Submissions**: %d\n", len(records)))
	buf.WriteString(fmt.Sprintf("**Pending**: %d\n\n", pending))

	for i, r := range records {
		buf.WriteString(fmt.Sprintf("## %d. %s\n\n", i+1, r.ID()))
		buf.WriteString(fmt.Sprintf("- **Submitted**: %s\n", r.Timestamp().Format(time.RFC3339)))
		buf.WriteString(fmt.Sprintf("- **Status**: %s\n", syncedLabel(r)))
		if r.LastError() != "" {
			buf.WriteString(fmt.Sprintf("- **Last error**: %s (%d attempts)\n", r.LastError(), r.Attempts()))
		}
		for _, name := range r.FieldNames() {
			buf.WriteString(fmt.Sprintf("- **%s**: %s\n", name, r.Field(name)))
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts records to plain text, one line per record
func ExportToText(title string, records []*models.SubmissionRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("%s: %d\n\n", title, len(records)))

	for i, r := range records {
		var parts []string
		for _, name := range r.FieldNames() {
			parts = append(parts, fmt.Sprintf("%s=%q", name, r.Field(name)))
		}
		buf.WriteString(fmt.Sprintf("%d. [%s] %s %s %s\n",
			i+1, syncedLabel(r), r.Timestamp().Format(time.RFC3339), r.ID(), strings.Join(parts, " "),
		))
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts records to an indented JSON array
func ExportToJSON(records []*models.SubmissionRecord) ([]byte, error) {
	if records == nil {
		records = []*models.SubmissionRecord{}
	}
	return shared.MarshalJSON(records, true)
}

// Render converts records to the given format. title heads the Markdown and text output.
func Render(format Format, title string, records []*models.SubmissionRecord) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(records)
	case FormatMarkdown:
		return ExportToMarkdown(title, records)
	case FormatText:
		return ExportToText(title, records)
	case FormatJSON:
		return ExportToJSON(records)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
}

// Write renders records to w.
func Write(w io.Writer, format Format, title string, records []*models.SubmissionRecord) error {
	data, err := Render(format, title, records)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// WriteExport renders records to the file at path.
func WriteExport(format Format, title string, records []*models.SubmissionRecord, path string) (string, error) {
	data, err := Render(format, title, records)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", format, err)
	}

	return path, nil
}
