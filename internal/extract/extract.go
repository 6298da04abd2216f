// Package extract turns the export document into flat attribute records.
//
// The document is expected to have a HealthData root whose direct Record
// children carry all their data as attributes. Every other element is
// ignored, as is anything nested inside a Record.
package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// ContainerElement is the root element holding the records.
	ContainerElement = "HealthData"

	// RecordElement is the element name of a record.
	RecordElement = "Record"
)

var (
	// ErrParse is returned for malformed markup.
	ErrParse = errors.New("xml parse error")

	// ErrMissingContainer is returned when the document has no HealthData root.
	ErrMissingContainer = errors.New("missing HealthData element")
)

// Stats counts what a walk over the document saw.
type Stats struct {
	Records int // Record children of HealthData
	Ignored int // other children of HealthData
}

// Extract parses text and returns its records in document order.
// On any error no records are returned.
func Extract(text string) ([]FlatRecord, error) {
	start := time.Now()
	slog.Info("parsing XML")

	var records []FlatRecord
	stats, err := Stream(strings.NewReader(text), func(r FlatRecord) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("parsed XML",
		"records", stats.Records,
		"elapsed", time.Since(start),
	)
	slog.Debug("ignored HealthData children", "count", stats.Ignored)
	return records, nil
}

// Stream walks the document read from r and calls fn for each record as
// soon as its start tag is read. The whole document is still checked for
// well-formedness, so fn may have been called before Stream reports
// ErrParse or ErrMissingContainer. An error from fn stops the walk and is
// returned unchanged.
func Stream(r io.Reader, fn func(FlatRecord) error) (Stats, error) {
	var stats Stats

	dec := xml.NewDecoder(r)
	dec.Strict = true

	inRoot := false
	rootClosed := false
	foundContainer := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootClosed {
				return stats, fmt.Errorf("%w: element <%s> after the root element", ErrParse, t.Name.Local)
			}
			if !inRoot {
				if t.Name.Local == ContainerElement {
					foundContainer = true
					inRoot = true
					continue
				}
				// Some other root: check it, but don't look inside.
				if err := dec.Skip(); err != nil {
					return stats, fmt.Errorf("%w: %w", ErrParse, err)
				}
				rootClosed = true
				continue
			}

			if t.Name.Local == RecordElement {
				rec, err := flatten(t)
				if err != nil {
					return stats, err
				}
				stats.Records++
				if err := fn(rec); err != nil {
					return stats, err
				}
			} else {
				stats.Ignored++
			}

			// Children and text of this element are not part of the record.
			if err := dec.Skip(); err != nil {
				return stats, fmt.Errorf("%w: %w", ErrParse, err)
			}

		case xml.EndElement:
			// Only the container's own end tag reaches here; children are skipped.
			inRoot = false
			rootClosed = true

		case xml.CharData:
			if !inRoot && len(bytes.TrimSpace(t)) > 0 {
				return stats, fmt.Errorf("%w: text outside the root element", ErrParse)
			}
		}
	}

	if !rootClosed {
		return stats, fmt.Errorf("%w: no root element", ErrParse)
	}
	if !foundContainer {
		return stats, ErrMissingContainer
	}
	return stats, nil
}

// flatten builds a record from the element's attributes.
func flatten(el xml.StartElement) (FlatRecord, error) {
	attrs := make([]Attr, 0, len(el.Attr))
	seen := make(map[string]bool, len(el.Attr))

	for _, a := range el.Attr {
		key := a.Name.Local
		if a.Name.Space != "" {
			key = a.Name.Space + ":" + a.Name.Local
		}
		if seen[key] {
			return FlatRecord{}, fmt.Errorf("%w: duplicate attribute %q on %s", ErrParse, key, RecordElement)
		}
		seen[key] = true
		attrs = append(attrs, Attr{Key: key, Value: a.Value})
	}

	return FlatRecord{attrs: attrs}, nil
}
