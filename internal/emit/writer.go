// Package emit writes records as CSV.
//
// Two modes exist. Fixed writes the nine schema columns for every record.
// Schemaless takes its header from the first record's attribute names and
// writes every later record's own values in that record's own attribute
// order, without reconciling them against the header: records whose key
// set or order differs from the first one come out misaligned. Fixed is
// the default everywhere.
package emit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"
)

var (
	// ErrSink is returned when the output cannot be written to.
	ErrSink = errors.New("output write failed")

	// ErrEmptySequence is returned by Schemaless when there are no records.
	ErrEmptySequence = errors.New("no records to derive header from")

	// ErrUnencodable marks a cell the CSV output cannot carry.
	ErrUnencodable = errors.New("value cannot be encoded")
)

// Stats summarizes one emission.
type Stats struct {
	Rows    int // data rows written, header excluded
	Skipped int // rows dropped because a value could not be encoded
}

// Writer writes a header and rows, skipping rows it cannot encode.
type Writer struct {
	csv   *csv.Writer
	stats Stats
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// Header writes the header row. An unencodable header is fatal.
func (w *Writer) Header(cols []string) error {
	if err := checkCells(cols); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if err := w.csv.Write(cols); err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	return nil
}

// Row writes one data row. index is the record's position in the input and
// only appears in the diagnostic for a skipped row.
func (w *Writer) Row(index int, cells []string) error {
	if err := checkCells(cells); err != nil {
		w.stats.Skipped++
		slog.Warn("skipping row", "record", index, "error", err)
		return nil
	}
	if err := w.csv.Write(cells); err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	w.stats.Rows++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	return nil
}

// Stats returns the counts so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

// checkCells rejects values that are not valid UTF-8 or contain NUL.
func checkCells(cells []string) error {
	for i, c := range cells {
		if !utf8.ValidString(c) {
			return fmt.Errorf("%w: column %d is not valid UTF-8", ErrUnencodable, i)
		}
		if strings.IndexByte(c, 0) >= 0 {
			return fmt.Errorf("%w: column %d contains a NUL byte", ErrUnencodable, i)
		}
	}
	return nil
}
