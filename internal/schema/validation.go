package schema

// validation.go checks flat records against HealthRecordFieldSpecs and
// projects the valid ones onto Record.
//
// ValidateAll reports every missing required attribute (useful for
// diagnostics); Project stops at the first one, in column order.

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// ErrMissingField is wrapped by every MissingFieldError.
var ErrMissingField = errors.New("missing required field")

// Attributes is the read side of a flat record.
type Attributes interface {
	Get(key string) (string, bool)
}

// MissingFieldError names the required field a record lacks.
type MissingFieldError struct {
	Field string // Output column name
	Key   string // Source attribute name
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s (attribute %q)", e.Field, e.Key)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// ValidateAll returns one MissingFieldError per absent required attribute.
func ValidateAll(attrs Attributes) []*MissingFieldError {
	var errs []*MissingFieldError
	for _, spec := range HealthRecordFieldSpecs {
		if !spec.Required {
			continue
		}
		if _, ok := attrs.Get(spec.Key); !ok {
			errs = append(errs, &MissingFieldError{Field: spec.Name, Key: spec.Key})
		}
	}
	return errs
}

// Project converts attrs into a Record. Attributes outside the schema are
// dropped. The error, if any, is a *MissingFieldError for the first
// required field that is absent.
func Project(attrs Attributes) (Record, error) {
	if errs := ValidateAll(attrs); len(errs) > 0 {
		return Record{}, errs[0]
	}

	required := func(key string) string {
		v, _ := attrs.Get(key)
		return v
	}
	optional := func(key string) pgtype.Text {
		v, ok := attrs.Get(key)
		return pgtype.Text{String: v, Valid: ok}
	}

	return Record{
		DataType:      required("type"),
		Unit:          optional("unit"),
		Value:         optional("value"),
		SourceName:    required("sourceName"),
		SourceVersion: optional("sourceVersion"),
		Device:        optional("device"),
		CreationDate:  optional("creationDate"),
		StartDate:     required("startDate"),
		EndDate:       required("endDate"),
	}, nil
}
