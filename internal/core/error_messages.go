package core

// error_messages.go maps pipeline errors to short user messages with a code
// for support reference. The CLI prints them on stderr; the server returns
// them in JSON error bodies.
//
// # Error Codes Reference
//
// # Archive Errors (ARC001-ARC099)
//
//	ARC001 - Archive could not be opened or is not a ZIP file
//	         Action: Check the path and that the file is the export ZIP
//	ARC002 - apple_health_export/export.xml not found in the archive
//	         Action: Upload the export.zip produced by the Health app
//	ARC003 - export.xml is not valid UTF-8 or could not be decompressed
//	         Action: Re-export from the Health app
//
// # Document Errors (XML001-XML099)
//
//	XML001 - export.xml is not well-formed XML
//	XML002 - export.xml has no HealthData element
//
// # Record Errors (REC001-REC099)
//
//	REC001 - A record is missing a required field (strict mode only)
//
// # Output Errors (OUT001-OUT099)
//
//	OUT001 - Writing CSV output failed
//	OUT002 - No records to derive a schema-less header from
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Too many conversions in progress
//	UPL002 - Request cancelled or timed out
//	UPL003 - Upload exceeds UPLOAD_MAX_FILE_SIZE
//	UPL004 - No archive in the "file" form field
//	UPL005 - Unknown output mode requested
//	UPL006 - Server is shutting down
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Unable to connect to database
//	DB002 - Database operation timed out
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// # Matching
//
// Sentinel errors are matched first with errors.Is, so wrapped errors keep
// their code. Errors from outside the pipeline (pgx, net) fall through to
// case-insensitive substring patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/healthexport/internal/archive"
	"github.com/JonMunkholm/healthexport/internal/emit"
	"github.com/JonMunkholm/healthexport/internal/extract"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// Order matters where sentinels can be wrapped together: a cancelled
// conversion mentions the phase but is still UPL002.
var sentinelMessages = []sentinelMessage{
	{
		target: ErrTooManyConversions,
		msg: UserMessage{
			Message: "System is busy processing other conversions",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},
	{
		target: context.Canceled,
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL002",
		},
	},
	{
		target: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again with a smaller export or a longer timeout",
			Code:    "UPL002",
		},
	},
	{
		target: archive.ErrOpen,
		msg: UserMessage{
			Message: "The archive could not be opened",
			Action:  "Check that the file is the export ZIP from the Health app",
			Code:    "ARC001",
		},
	},
	{
		target: archive.ErrEntryNotFound,
		msg: UserMessage{
			Message: "The archive has no apple_health_export/export.xml",
			Action:  "Upload the export.zip produced by the Health app",
			Code:    "ARC002",
		},
	},
	{
		target: archive.ErrDecode,
		msg: UserMessage{
			Message: "export.xml could not be decoded",
			Action:  "Re-export from the Health app and try again",
			Code:    "ARC003",
		},
	},
	{
		target: extract.ErrParse,
		msg: UserMessage{
			Message: "export.xml is not well-formed XML",
			Action:  "Re-export from the Health app and try again",
			Code:    "XML001",
		},
	},
	{
		target: extract.ErrMissingContainer,
		msg: UserMessage{
			Message: "export.xml has no HealthData element",
			Action:  "Check that the archive is an Apple Health export",
			Code:    "XML002",
		},
	},
	{
		target: schema.ErrMissingField,
		msg: UserMessage{
			Message: "A record is missing a required field",
			Action:  "Disable strict mode to skip incomplete records",
			Code:    "REC001",
		},
	},
	{
		target: emit.ErrSink,
		msg: UserMessage{
			Message: "Writing the CSV output failed",
			Action:  "Check the destination and free disk space",
			Code:    "OUT001",
		},
	},
	{
		target: emit.ErrEmptySequence,
		msg: UserMessage{
			Message: "The export contains no records",
			Action:  "Use fixed mode to get a header-only CSV",
			Code:    "OUT002",
		},
	},
}

// errorPattern matches errors that carry no sentinel.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Database operation timed out",
			Action:  "Try again later",
			Code:    "DB002",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "The upload exceeds the maximum size",
			Action:  "Raise UPLOAD_MAX_FILE_SIZE or use the CLI",
			Code:    "UPL003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No archive was uploaded",
			Action:  "Attach the export ZIP in the file field",
			Code:    "UPL004",
		},
	},
	{
		pattern: "server shutting down",
		msg: UserMessage{
			Message: "The server is shutting down",
			Action:  "Please try again shortly",
			Code:    "UPL006",
		},
	},
	{
		pattern: "unknown mode",
		msg: UserMessage{
			Message: "Unknown output mode",
			Action:  "Use mode=fixed or mode=schemaless",
			Code:    "UPL005",
		},
	},
}

// defaultMessage is returned when no sentinel or pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := archive.Load("missing.zip")
//	msg := MapError(err)
//	// msg.Code == "ARC001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
