// Package archive locates the health export document inside an export zip.
//
// The export produced by the phone is a zip whose single interesting member
// lives at a fixed path. Load returns that member's complete text; nothing
// else in the archive is inspected.
package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
)

// ExportRoot is the top-level directory inside every export archive.
const ExportRoot = "apple_health_export"

// ExportPath is the archive member holding the health records.
const ExportPath = ExportRoot + "/export.xml"

var (
	// ErrOpen is returned when the file cannot be opened or is not a zip.
	ErrOpen = errors.New("archive open failed")

	// ErrEntryNotFound is returned when ExportPath is not in the archive.
	ErrEntryNotFound = errors.New("archive entry not found")

	// ErrDecode is returned when the entry cannot be read as UTF-8 text.
	ErrDecode = errors.New("archive entry encoding error")
)

// Load opens the zip at path and returns the text of ExportPath.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	return LoadFrom(f, info.Size(), path)
}

// LoadFrom is Load for an archive that is already open or held in memory.
// name is only used in diagnostics.
func LoadFrom(r io.ReaderAt, size int64, name string) (string, error) {
	start := time.Now()

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOpen, name, err)
	}

	entry := findEntry(zr, ExportPath)
	if entry == nil {
		return "", fmt.Errorf("%w: %s has no %s", ErrEntryNotFound, name, ExportPath)
	}

	slog.Debug("found export entry",
		"entry", entry.Name,
		"size_mb", entry.UncompressedSize64/1024/1024,
	)
	slog.Info("reading export entry", "entry", entry.Name, "archive", name)

	text, err := readEntry(entry)
	if err != nil {
		return "", err
	}

	slog.Info("read export entry",
		"archive", name,
		"bytes", len(text),
		"elapsed", time.Since(start),
	)
	return text, nil
}

// findEntry returns the member named exactly name, or nil.
func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// readEntry reads the whole member, drops a UTF-8 BOM and rejects
// anything that is not valid UTF-8.
func readEntry(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrDecode, entry.Name, err)
	}
	defer rc.Close()

	counter := NewCountingReader(NewBOMSkippingReader(rc), int64(entry.UncompressedSize64))
	data, err := io.ReadAll(counter)
	if err != nil {
		return "", fmt.Errorf("%w: read %s after %d of %d bytes (%d%%): %w",
			ErrDecode, entry.Name, counter.BytesRead, counter.Total, counter.Progress(), err)
	}
	slog.Debug("decompressed export entry",
		"entry", entry.Name,
		"bytes", counter.BytesRead,
		"declared", counter.Total,
		"progress_pct", counter.Progress(),
	)

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrDecode, entry.Name)
	}

	return string(data), nil
}
