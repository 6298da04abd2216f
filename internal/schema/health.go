// Package schema defines the fixed output schema for health records and the
// projection of flat attribute records onto it.
package schema

import "github.com/jackc/pgx/v5/pgtype"

// FieldSpec describes one output column and where its value comes from.
type FieldSpec struct {
	Name     string // Output column name
	Key      string // Source attribute name
	Required bool   // Record is invalid without this attribute
}

// HealthRecordFieldSpecs defines the output columns in emission order.
var HealthRecordFieldSpecs = []FieldSpec{
	{Name: "data_type", Key: "type", Required: true},
	{Name: "unit", Key: "unit"},
	{Name: "value", Key: "value"},
	{Name: "source_name", Key: "sourceName", Required: true},
	{Name: "source_version", Key: "sourceVersion"},
	{Name: "device", Key: "device"},
	{Name: "creation_date", Key: "creationDate"},
	{Name: "start_date", Key: "startDate", Required: true},
	{Name: "end_date", Key: "endDate", Required: true},
}

// Columns returns the output column names in emission order.
func Columns() []string {
	cols := make([]string, len(HealthRecordFieldSpecs))
	for i, spec := range HealthRecordFieldSpecs {
		cols[i] = spec.Name
	}
	return cols
}

// Record is a health record projected onto the fixed schema.
//
// Optional fields use pgtype.Text with Valid=false to mean "attribute absent",
// which is distinct from an attribute present with an empty value.
type Record struct {
	DataType      string
	Unit          pgtype.Text
	Value         pgtype.Text
	SourceName    string
	SourceVersion pgtype.Text
	Device        pgtype.Text
	CreationDate  pgtype.Text
	StartDate     string
	EndDate       string
}

// Values returns the record's fields in column order. Absent optional
// fields are returned as nil so callers can tell them from "".
func (r Record) Values() []*string {
	return []*string{
		&r.DataType,
		textPtr(r.Unit),
		textPtr(r.Value),
		&r.SourceName,
		textPtr(r.SourceVersion),
		textPtr(r.Device),
		textPtr(r.CreationDate),
		&r.StartDate,
		&r.EndDate,
	}
}

// Row returns the record as output cells; absent fields become empty cells.
func (r Record) Row() []string {
	vals := r.Values()
	row := make([]string, len(vals))
	for i, v := range vals {
		if v != nil {
			row[i] = *v
		}
	}
	return row
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
