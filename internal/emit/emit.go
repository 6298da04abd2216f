package emit

import (
	"io"
	"log/slog"

	"github.com/JonMunkholm/healthexport/internal/extract"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

// Fixed writes the schema header and one row per record. Absent optional
// fields are empty cells. With no records only the header is written.
func Fixed(records []schema.Record, w io.Writer) (Stats, error) {
	out := NewWriter(w)

	if err := out.Header(schema.Columns()); err != nil {
		return out.Stats(), err
	}
	for i, rec := range records {
		if err := out.Row(i, rec.Row()); err != nil {
			return out.Stats(), err
		}
	}
	if err := out.Flush(); err != nil {
		return out.Stats(), err
	}

	slog.Info("done writing records", "rows", out.Stats().Rows, "skipped", out.Stats().Skipped)
	return out.Stats(), nil
}

// Schemaless writes the first record's keys as the header, then every
// record's values in its own key order.
func Schemaless(records []extract.FlatRecord, w io.Writer) (Stats, error) {
	if len(records) == 0 {
		return Stats{}, ErrEmptySequence
	}

	out := NewWriter(w)

	if err := out.Header(records[0].Keys()); err != nil {
		return out.Stats(), err
	}
	for i, rec := range records {
		if err := out.Row(i, rec.Values()); err != nil {
			return out.Stats(), err
		}
	}
	if err := out.Flush(); err != nil {
		return out.Stats(), err
	}

	slog.Info("done writing records", "rows", out.Stats().Rows, "skipped", out.Stats().Skipped)
	return out.Stats(), nil
}
