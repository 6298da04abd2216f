package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/core"
	"github.com/JonMunkholm/healthexport/internal/logging"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

// multipartMemory is how much of an upload is held in memory before the
// rest spills to a temp file.
const multipartMemory = 32 << 20

// SchemaResponse describes the fixed output columns.
type SchemaResponse struct {
	Mode     string   `json:"mode"`
	Columns  []string `json:"columns"`
	Required []string `json:"required"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"conversions": s.limiter.Status(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	resp := SchemaResponse{
		Mode:    s.defaultMode(),
		Columns: schema.Columns(),
	}
	for _, spec := range schema.HealthRecordFieldSpecs {
		if spec.Required {
			resp.Required = append(resp.Required, spec.Name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConvert converts the archive in form field "file" and returns the
// CSV as an attachment. The CSV is buffered so that a failing conversion
// still gets a JSON error instead of a truncated download.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		respondError(w, r, errShuttingDown)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			err = fmt.Errorf("%w: %w", errNoFile, err)
		}
		respondError(w, r, fmt.Errorf("parse upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errNoFile, err))
		return
	}
	defer file.Close()

	exportCfg := s.cfg.Export
	if mode := strings.ToLower(r.FormValue("mode")); mode != "" {
		if mode != config.ModeFixed && mode != config.ModeSchemaless {
			respondError(w, r, fmt.Errorf("%w %q", errUnknownMode, mode))
			return
		}
		exportCfg.Mode = mode
	}

	if !s.limiter.TryAcquire() {
		logging.FromContext(r.Context()).Info("waiting for a conversion slot",
			"active", s.limiter.ActiveCount(),
			"max", s.limiter.MaxConcurrent(),
		)
		if err := s.limiter.Acquire(r.Context()); err != nil {
			s.metrics.ObserveConversion(nil, err)
			respondError(w, r, err)
			return
		}
	}
	defer s.limiter.Release()
	defer s.metrics.TrackInFlight()()

	var out bytes.Buffer
	converter := core.NewConverter(exportCfg)
	res, err := converter.ConvertArchive(r.Context(), file, header.Size, header.Filename, &out)
	s.metrics.ObserveConversion(res, err)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvName(header.Filename)))
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.Header().Set("X-Run-ID", res.RunID)
	w.Header().Set("X-Records-Skipped", strconv.Itoa(res.Skipped()))
	w.WriteHeader(http.StatusOK)
	out.WriteTo(w)
}

// csvName derives the download name from the uploaded archive name.
func csvName(upload string) string {
	base := filepath.Base(upload)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "export"
	}
	return base + ".csv"
}
