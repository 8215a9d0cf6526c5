package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/listing-uploader/models"
)

// ErrNoResults is returned by Validate when nothing was written.
var ErrNoResults = errors.New("pipeline: no results recorded")

// Tally counts the results a writer has recorded.
type Tally struct {
	Succeeded int
	Failed    int
}

// Total is the number of results recorded.
func (t Tally) Total() int {
	return t.Succeeded + t.Failed
}

// add counts batch and reports whether it held a failure.
func (t *Tally) add(batch []*models.ProductResult) bool {
	failed := false
	for _, res := range batch {
		if res.Success {
			t.Succeeded++
			continue
		}
		t.Failed++
		failed = true
	}
	return failed
}

// CSVWriter writes one row per product result. A batch holding a failure is
// synced to disk before Write returns, so a halted run keeps its failures.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	tally  Tally
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"row", "title", "status", "error_type", "reason", "attempts", "snapshots", "finished_at"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends results to the CSV output.
func (cw *CSVWriter) Write(results []*models.ProductResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, res := range results {
		record := []string{
			strconv.Itoa(res.Row),
			res.Title,
			status(res),
			res.ErrorType,
			res.Reason,
			strconv.Itoa(res.Attempts),
			strings.Join(res.Snapshots, ";"),
			res.FinishedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if cw.tally.add(results) {
		if err := cw.file.Sync(); err != nil {
			return fmt.Errorf("sync csv file: %w", err)
		}
	}
	return nil
}

// Tally returns the results written so far.
func (cw *CSVWriter) Tally() Tally {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.tally
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file holds at least one result row.
func (cw *CSVWriter) Validate() error {
	if cw.Tally().Total() == 0 {
		return ErrNoResults
	}
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records, syncing batches that
// hold a failure.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	tally   Tally
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends results in JSONL format.
func (jw *JSONWriter) Write(results []*models.ProductResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, res := range results {
		if err := jw.encoder.Encode(res); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if jw.tally.add(results) {
		if err := jw.file.Sync(); err != nil {
			return fmt.Errorf("sync json file: %w", err)
		}
	}
	return nil
}

// Tally returns the results written so far.
func (jw *JSONWriter) Tally() Tally {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.tally
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file holds at least one result.
func (jw *JSONWriter) Validate() error {
	if jw.Tally().Total() == 0 {
		return ErrNoResults
	}
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// NewResultWriter opens the writer for format ("csv", "json" or "dual")
// at base plus the format's extension, and returns the paths it writes.
func NewResultWriter(format, base string) (OutputWriter, []string, error) {
	var (
		w     OutputWriter
		paths []string
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		paths = []string{base + ".csv"}
		w, err = NewCSVWriter(paths[0])
	case "json", "jsonl":
		paths = []string{base + ".json"}
		w, err = NewJSONWriter(paths[0])
	case "dual", "both":
		paths = []string{base + ".csv", base + ".json"}
		w, err = NewDualWriter(paths[0], paths[1])
	default:
		return nil, nil, fmt.Errorf("unknown results format %q", format)
	}
	if err != nil {
		return nil, nil, err
	}
	return w, paths, nil
}

func status(res *models.ProductResult) string {
	if res.Success {
		return "success"
	}
	return "failed"
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
