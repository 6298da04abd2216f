package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request ID; the client gets the mapped user message as
// JSON:
//
//	{"error": "...", "message": "...", "action": "...", "code": "ARC002"}

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/healthexport/internal/archive"
	"github.com/JonMunkholm/healthexport/internal/core"
	"github.com/JonMunkholm/healthexport/internal/emit"
	"github.com/JonMunkholm/healthexport/internal/extract"
	"github.com/JonMunkholm/healthexport/internal/logging"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

var (
	errNoFile       = errors.New("no file provided")
	errUnknownMode  = errors.New("unknown mode")
	errShuttingDown = errors.New("server shutting down")
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user message with the status that
// fits it. Errors without a specific code are logged at error level, the
// rest are client problems and only warn.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	uerr := core.NewUserError(err)
	status := statusFor(err)

	level := slog.LevelWarn
	if !core.IsUserFacing(err) {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", uerr.Technical.Error(),
		"code", uerr.User.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   uerr.Error(),
		Message: uerr.User.Message,
		Action:  uerr.User.Action,
		Code:    uerr.User.Code,
	})
}

// statusFor picks the HTTP status for a pipeline or request error.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), strings.Contains(err.Error(), "request body too large"):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile), errors.Is(err, errUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyConversions), errors.Is(err, errShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, archive.ErrOpen),
		errors.Is(err, archive.ErrEntryNotFound),
		errors.Is(err, archive.ErrDecode),
		errors.Is(err, extract.ErrParse),
		errors.Is(err, extract.ErrMissingContainer),
		errors.Is(err, schema.ErrMissingField),
		errors.Is(err, emit.ErrEmptySequence):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
