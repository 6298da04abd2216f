package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/healthexport/internal/archive/archivetest"
	"github.com/JonMunkholm/healthexport/internal/config"
)

const heartRate = `<Record type="HeartRate" sourceName="Watch" unit="count/min" value="60" startDate="2023-01-01" endDate="2023-01-01"/>`

func testConfig() *config.Config {
	return &config.Config{
		Export: config.ExportConfig{Mode: config.ModeFixed},
		Server: config.ServerConfig{Port: 8080},
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 1,
			MaxWaitTime:   50 * time.Millisecond,
		},
	}
}

// uploadRequest builds a multipart POST to /api/convert. A nil archive
// sends the form without a file part.
func uploadRequest(t *testing.T, archive []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if archive != nil {
		fw, err := mw.CreateFormFile("file", "export.zip")
		require.NoError(t, err)
		_, err = fw.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConvert_ReturnsCSV(t *testing.T) {
	s := NewServer(testConfig())
	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))

	rec := serve(s, uploadRequest(t, archive, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="export.csv"`, rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))
	assert.Equal(t, "0", rec.Header().Get("X-Records-Skipped"))
	assert.Equal(t,
		"data_type,unit,value,source_name,source_version,device,creation_date,start_date,end_date\n"+
			"HeartRate,count/min,60,Watch,,,,2023-01-01,2023-01-01\n",
		rec.Body.String())
}

func TestConvert_SchemalessMode(t *testing.T) {
	s := NewServer(testConfig())
	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(
		`<Record type="StepCount" value="12"/>`,
	)))

	rec := serve(s, uploadRequest(t, archive, map[string]string{"mode": "schemaless"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "type,value\nStepCount,12\n", rec.Body.String())
}

func TestConvert_ReportsSkippedRecords(t *testing.T) {
	s := NewServer(testConfig())
	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(
		heartRate,
		`<Record type="HeartRate" value="61"/>`,
	)))

	rec := serve(s, uploadRequest(t, archive, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Records-Skipped"))
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		cfg        func(*config.Config)
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "entry missing",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, archivetest.Build(t, archivetest.Entry{Name: "notes.txt", Body: []byte("x")}), nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "ARC002",
		},
		{
			name: "not a zip",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, []byte("plain text"), nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "ARC001",
		},
		{
			name: "malformed xml",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, archivetest.Build(t, archivetest.ExportEntry("<HealthData><Record")), nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "XML001",
		},
		{
			name: "no file",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, nil, map[string]string{"mode": "fixed"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UPL004",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/convert", strings.NewReader("{}"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UPL004",
		},
		{
			name: "unknown mode",
			req: func(t *testing.T) *http.Request {
				archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))
				return uploadRequest(t, archive, map[string]string{"mode": "wide"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UPL005",
		},
		{
			name: "too large",
			cfg:  func(c *config.Config) { c.Upload.MaxFileSize = 64 },
			req: func(t *testing.T) *http.Request {
				archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate, heartRate, heartRate)))
				return uploadRequest(t, archive, nil)
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "UPL003",
		},
		{
			name: "strict missing field",
			cfg:  func(c *config.Config) { c.Export.Strict = true },
			req: func(t *testing.T) *http.Request {
				archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(`<Record type="X"/>`)))
				return uploadRequest(t, archive, nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "REC001",
		},
		{
			name: "empty schemaless",
			req: func(t *testing.T) *http.Request {
				archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData()))
				return uploadRequest(t, archive, map[string]string{"mode": "schemaless"})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "OUT002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			s := NewServer(cfg)

			rec := serve(s, tt.req(t))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.NotEmpty(t, resp.Action)
		})
	}
}

func TestConvert_BusyWhenLimiterFull(t *testing.T) {
	s := NewServer(testConfig())
	require.True(t, s.limiter.TryAcquire())
	defer s.limiter.Release()

	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))
	rec := serve(s, uploadRequest(t, archive, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "UPL001", decodeError(t, rec).Code)
}

func TestConvert_RejectedAfterShutdown(t *testing.T) {
	s := NewServer(testConfig())
	require.NoError(t, s.Shutdown(context.Background()))

	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))
	rec := serve(s, uploadRequest(t, archive, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "UPL006", decodeError(t, rec).Code)
	assert.Equal(t, 0, s.limiter.ActiveCount())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown_ClosesListenerWhileConversionsRun(t *testing.T) {
	s := NewServer(testConfig())
	s.server = &http.Server{Addr: "127.0.0.1:0", Handler: s.router}
	require.NoError(t, s.limiter.Acquire(context.Background()))
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.True(t, s.draining.Load())
	assert.Equal(t, 1, s.limiter.ActiveCount())
	assert.ErrorIs(t, s.server.ListenAndServe(), http.ErrServerClosed)
}

func TestRespondError_LogLevel(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	req := httptest.NewRequest(http.MethodPost, "/api/convert", nil)

	respondError(httptest.NewRecorder(), req, errNoFile)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "code=UPL004")

	logs.Reset()
	rec := httptest.NewRecorder()
	respondError(rec, req, errors.New("disk on fire"))
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "disk on fire")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "ERR000", resp.Code)
	assert.NotContains(t, resp.Message, "disk on fire")
}

func TestConvert_RequiresAPIKeyWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKeys = "secret"
	s := NewServer(cfg)
	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))

	rec := serve(s, uploadRequest(t, archive, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := uploadRequest(t, archive, nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSchema(t *testing.T) {
	s := NewServer(testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/schema", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SchemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fixed", resp.Mode)
	assert.Len(t, resp.Columns, 9)
	assert.Equal(t, []string{"data_type", "source_name", "start_date", "end_date"}, resp.Required)
}

func TestIndexPage(t *testing.T) {
	s := NewServer(testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `action="/api/convert"`)
	assert.Contains(t, body, `name="file"`)
	assert.Contains(t, body, `value="fixed" checked`)
	assert.Contains(t, body, "<code>source_version</code>")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthz(t *testing.T) {
	s := NewServer(testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"max_concurrent":1`)
}

func TestMetrics(t *testing.T) {
	s := NewServer(testConfig())
	archive := archivetest.Build(t, archivetest.ExportEntry(archivetest.HealthData(heartRate)))
	require.Equal(t, http.StatusOK, serve(s, uploadRequest(t, archive, nil)).Code)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `health_export_conversions_total{code="OK"} 1`)
	assert.Contains(t, body, "health_export_rows_written_total 1")
	assert.Contains(t, body, "health_export_conversions_in_flight 0")
}

func TestCSVName(t *testing.T) {
	tests := map[string]string{
		"export.zip":           "export.csv",
		"/tmp/upload/data.zip": "data.csv",
		"noext":                "noext.csv",
		"":                     "export.csv",
	}
	for in, want := range tests {
		assert.Equal(t, want, csvName(in), "csvName(%q)", in)
	}
}
