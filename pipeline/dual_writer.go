package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/listing-uploader/models"
)

// tallyWriter is an OutputWriter that counts what it wrote.
type tallyWriter interface {
	OutputWriter
	Tally() Tally
}

// DualWriter records every result in both the CSV and the JSONL file. A
// failure in one format does not stop the other from receiving the batch.
type DualWriter struct {
	outputs []tallyWriter
	names   []string
	mu      sync.Mutex
}

// NewDualWriter opens both files. The CSV writer is closed again when the
// JSON file cannot be created.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create CSV writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create JSON writer: %w", err)
	}
	return &DualWriter{
		outputs: []tallyWriter{csvWriter, jsonWriter},
		names:   []string{"CSV", "JSON"},
	}, nil
}

// Write hands results to each output and joins their errors.
func (dw *DualWriter) Write(results []*models.ProductResult) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	for i, out := range dw.outputs {
		if err := out.Write(results); err != nil {
			errs = append(errs, fmt.Errorf("%s write: %w", dw.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every output.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	for i, out := range dw.outputs {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", dw.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks each output and that both recorded the same results.
func (dw *DualWriter) Validate() error {
	var errs []error
	for i, out := range dw.outputs {
		if err := out.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dw.names[i], err))
		}
	}
	first := dw.outputs[0].Tally()
	for i, out := range dw.outputs[1:] {
		if got := out.Tally(); got != first {
			errs = append(errs, fmt.Errorf("%s recorded %d/%d results, %s recorded %d/%d",
				dw.names[0], first.Succeeded, first.Failed, dw.names[i+1], got.Succeeded, got.Failed))
		}
	}
	return errors.Join(errs...)
}
