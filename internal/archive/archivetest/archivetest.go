// Package archivetest builds export archives for tests.
package archivetest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry is one archive member.
type Entry struct {
	Name string
	Body []byte
}

// ExportEntry returns the member the converter looks for, holding xml.
func ExportEntry(xml string) Entry {
	return Entry{Name: "apple_health_export/export.xml", Body: []byte(xml)}
}

// Build returns the bytes of a zip holding entries in order.
func Build(t testing.TB, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("create %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Body); err != nil {
			t.Fatalf("write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes the archive to a temp dir and returns its path.
func WriteFile(t testing.TB, entries ...Entry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.zip")
	if err := os.WriteFile(path, Build(t, entries...), 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

// HealthData wraps record elements in a minimal export document.
func HealthData(children ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<HealthData locale="en_US">` + "\n")
	for _, c := range children {
		b.WriteString(" ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("</HealthData>\n")
	return b.String()
}
