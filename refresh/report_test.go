package refresh

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/aluiziolira/go-critic/models"
	"github.com/aluiziolira/go-critic/store"
	"github.com/aluiziolira/go-critic/upstream"
)

func sampleRecord() models.RefreshRecord {
	return models.RefreshRecord{
		ItemID:   "jikan_anime_1",
		Category: models.CategoryAnime,
		Status:   models.RefreshStatusFailed,
		Error:    "Bad response from API. status=503",
		At:       time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "refresh.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]models.RefreshRecord{sampleRecord()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "item_id" || records[0][2] != "status" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "jikan_anime_1" || records[1][4] != "2024-06-10T08:00:00Z" {
		t.Fatalf("unexpected row: %v", records[1])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refresh.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("empty jsonl should not validate")
	}
	record := sampleRecord()
	if err := writer.Write([]models.RefreshRecord{record, record}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var got models.RefreshRecord
		if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
			t.Fatalf("decode line %d: %v", lines, err)
		}
		if got.ItemID != record.ItemID || got.Status != record.Status || !got.At.Equal(record.At) {
			t.Fatalf("line %d = %+v", lines, got)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines=%d, want 2", lines)
	}
}

func TestNewReportWriterFormats(t *testing.T) {
	dir := t.TempDir()

	both, err := NewReportWriter(filepath.Join(dir, "run.out"), "both")
	if err != nil {
		t.Fatalf("both: %v", err)
	}
	if err := both.Write([]models.RefreshRecord{sampleRecord()}); err != nil {
		t.Fatalf("write both: %v", err)
	}
	if err := both.Validate(); err != nil {
		t.Fatalf("validate both: %v", err)
	}
	if err := both.Close(); err != nil {
		t.Fatalf("close both: %v", err)
	}
	for _, name := range []string{"run.csv", "run.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}

	if _, err := NewReportWriter(filepath.Join(dir, "x.xml"), "xml"); err == nil {
		t.Fatalf("unknown format should fail")
	}
}

func TestRunWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refresh.csv")
	report, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create report: %v", err)
	}

	mem := store.NewMemory(storedItem("omdb_ok", nil, nil), storedItem("omdb_gone", nil, nil))
	provider := &fakeProvider{outcomes: map[string]upstream.Outcome[models.ItemDetails]{
		"omdb_ok": upstream.Success(freshDetails("omdb_ok", "Fine")),
	}}
	job := newTestJob(mem, singleProvider(provider), &sleepRecorder{}, WithReport(report))

	if _, err := job.Run(context.Background(), DefaultOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := report.Close(); err != nil {
		t.Fatalf("close report: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 3 {
		t.Fatalf("records=%d, want header plus 2", len(records))
	}
	if records[1][0] != "omdb_gone" || records[1][2] != models.RefreshStatusFailed || records[1][3] != "Movie not found!" {
		t.Fatalf("first row = %v", records[1])
	}
	if records[2][0] != "omdb_ok" || records[2][2] != models.RefreshStatusRefreshed {
		t.Fatalf("second row = %v", records[2])
	}
}

func TestFinishReport(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		records   []models.RefreshRecord
		wantErr   bool
	}{
		{name: "records written", processed: 1, records: []models.RefreshRecord{sampleRecord()}},
		{name: "nothing processed", processed: 0},
		{name: "processed but nothing written", processed: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "refresh.jsonl")
			writer, err := NewJSONWriter(path)
			if err != nil {
				t.Fatalf("create json writer: %v", err)
			}
			if len(tt.records) > 0 {
				if err := writer.Write(tt.records); err != nil {
					t.Fatalf("write: %v", err)
				}
			}

			err = FinishReport(writer, &models.RefreshResult{Processed: tt.processed})
			if (err != nil) != tt.wantErr {
				t.Fatalf("FinishReport error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := writer.file.Close(); err == nil {
				t.Fatalf("report file left open")
			}
		})
	}
}
