package tasks

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

const (
	// ExportFilename is offered as the download name for CSV exports.
	ExportFilename = "tasks.csv"

	statusOpen      = "open"
	statusCompleted = "completed"
)

var exportHeader = []string{"id", "text", "status", "created_at"}

// WriteCSV serializes the records to w as RFC 4180 CSV: a header row, then
// one row per record with the task's status label and RFC 3339 creation
// time. The transform is pure and never touches the store; an empty record
// set yields only the header row.
func WriteCSV(w io.Writer, records []Task) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return err
	}
	for _, record := range records {
		status := statusOpen
		if record.Completed {
			status = statusCompleted
		}
		row := []string{
			strconv.FormatInt(record.ID, 10),
			record.Text,
			status,
			record.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
