package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/listing-uploader/models"
)

func sampleResults() []*models.ProductResult {
	finished := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	return []*models.ProductResult{
		{Row: 1, Title: "Boho Print", Success: true, Attempts: 1, FinishedAt: finished},
		{
			Row:        2,
			Title:      "Plain Mug",
			Reason:     "invalid_record: row 2 (Plain Mug): product missing price for Plain Mug",
			ErrorType:  "invalid_record",
			Snapshots:  []string{"logs/error_row2_invalid_20251104_130913.png"},
			FinishedAt: finished,
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write(sampleResults()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "row" || records[0][2] != "status" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][2] != "success" || records[2][2] != "failed" {
		t.Fatalf("unexpected statuses: %v / %v", records[1], records[2])
	}
	if records[2][3] != "invalid_record" {
		t.Fatalf("error type=%q", records[2][3])
	}
	if records[2][7] != "2025-11-04T13:09:13Z" {
		t.Fatalf("finished_at=%q", records[2][7])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write(sampleResults()); err != nil {
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

	scanner := bufio.NewScanner(f)
	var decoded []models.ProductResult
	for scanner.Scan() {
		var res models.ProductResult
		if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, res)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines=%d, want 2", len(decoded))
	}
	if decoded[1].Success || len(decoded[1].Snapshots) != 1 {
		t.Fatalf("unexpected failed result: %+v", decoded[1])
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "results.csv")
	jsonPath := filepath.Join(dir, "results.json")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write(sampleResults()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestWriterTallyAndValidate(t *testing.T) {
	dir := t.TempDir()
	csvWriter, err := NewCSVWriter(filepath.Join(dir, "results.csv"))
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	defer csvWriter.Close()
	jsonWriter, err := NewJSONWriter(filepath.Join(dir, "results.json"))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	defer jsonWriter.Close()

	for _, w := range []tallyWriter{csvWriter, jsonWriter} {
		if err := w.Validate(); !errors.Is(err, ErrNoResults) {
			t.Fatalf("validate before writing: err=%v, want ErrNoResults", err)
		}
		if err := w.Write(sampleResults()); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got := w.Tally(); got != (Tally{Succeeded: 1, Failed: 1}) {
			t.Fatalf("tally=%+v", got)
		}
		if err := w.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
}

func TestDualWriterValidateDetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDualWriter(filepath.Join(dir, "results.csv"), filepath.Join(dir, "results.json"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(sampleResults()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}

	// One format receives an extra failure.
	if err := writer.outputs[1].Write(sampleResults()[1:]); err != nil {
		t.Fatalf("write json: %v", err)
	}
	err = writer.Validate()
	if err == nil || !strings.Contains(err.Error(), "JSON recorded 1/2") {
		t.Fatalf("err=%v, want divergence error", err)
	}
}

func TestNewResultWriter(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"csv", []string{"results.csv"}},
		{"JSON", []string{"results.json"}},
		{"dual", []string{"results.csv", "results.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			w, paths, err := NewResultWriter(tt.format, filepath.Join(dir, "nested", "results"))
			if err != nil {
				t.Fatalf("new writer: %v", err)
			}
			defer w.Close()

			if len(paths) != len(tt.want) {
				t.Fatalf("paths=%v, want %v", paths, tt.want)
			}
			for i, p := range paths {
				if filepath.Base(p) != tt.want[i] {
					t.Fatalf("path %d=%s, want %s", i, p, tt.want[i])
				}
				if _, err := os.Stat(p); err != nil {
					t.Fatalf("file not created: %v", err)
				}
			}
		})
	}

	if _, _, err := NewResultWriter("xml", filepath.Join(t.TempDir(), "results")); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
