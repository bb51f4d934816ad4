package refresh

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/aluiziolira/go-critic/models"
)

// ReportWriter receives one record per processed item.
type ReportWriter interface {
	Write(records []models.RefreshRecord) error
	Close() error
	Validate() error
}

// Report formats accepted by NewReportWriter.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
	FormatBoth  = "both"
)

// NewReportWriter opens a report at path in the given format. For FormatBoth
// the path's extension is replaced with .csv and .jsonl.
func NewReportWriter(path, format string) (ReportWriter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV, "":
		return NewCSVWriter(path)
	case FormatJSONL, "json":
		return NewJSONWriter(path)
	case FormatBoth:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		return NewDualWriter(base+".csv", base+".jsonl")
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

var csvHeader = []string{"item_id", "category", "status", "error", "at"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates the file and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{file: f, writer: writer}, nil
}

func (cw *CSVWriter) Write(records []models.RefreshRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		row := []string{r.ItemID, string(r.Category), r.Status, r.Error, r.At.UTC().Format(time.RFC3339)}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{file: f, writer: buffer, encoder: json.NewEncoder(buffer)}, nil
}

func (jw *JSONWriter) Write(records []models.RefreshRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSONL file has data. A run that processed nothing
// leaves it empty.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// DualWriter writes every record to a CSV and a JSONL file.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	return &DualWriter{csvWriter: csvWriter, jsonWriter: jsonWriter}, nil
}

func (dw *DualWriter) Write(records []models.RefreshRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(records); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(records); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv close: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close: %w", err))
	}
	return errors.Join(errs...)
}

func (dw *DualWriter) Validate() error {
	return errors.Join(dw.csvWriter.Validate(), dw.jsonWriter.Validate())
}

// FinishReport validates w when the run processed at least one item and then
// closes it. A run that processed nothing leaves the report without records.
func FinishReport(w ReportWriter, result *models.RefreshResult) error {
	var errs []error
	if result != nil && result.Processed > 0 {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate report: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close report: %w", err))
	}
	return errors.Join(errs...)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
