package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/JonMunkholm/healthexport/internal/extract"
)

func heartRate(drop ...string) extract.FlatRecord {
	all := []extract.Attr{
		{Key: "type", Value: "HeartRate"},
		{Key: "sourceName", Value: "Watch"},
		{Key: "startDate", Value: "2023-01-01"},
		{Key: "endDate", Value: "2023-01-01"},
		{Key: "value", Value: "60"},
		{Key: "unit", Value: "count/min"},
	}
	var attrs []extract.Attr
outer:
	for _, a := range all {
		for _, d := range drop {
			if a.Key == d {
				continue outer
			}
		}
		attrs = append(attrs, a)
	}
	return extract.NewFlatRecord(attrs...)
}

func TestColumns(t *testing.T) {
	want := []string{
		"data_type", "unit", "value", "source_name", "source_version",
		"device", "creation_date", "start_date", "end_date",
	}
	if got := Columns(); !reflect.DeepEqual(got, want) {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
}

func TestProject(t *testing.T) {
	rec, err := Project(heartRate())
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	want := []string{"HeartRate", "count/min", "60", "Watch", "", "", "", "2023-01-01", "2023-01-01"}
	if got := rec.Row(); !reflect.DeepEqual(got, want) {
		t.Errorf("Row() = %q, want %q", got, want)
	}
	if rec.Device.Valid {
		t.Error("Device should be absent")
	}
	if !rec.Unit.Valid || rec.Unit.String != "count/min" {
		t.Errorf("Unit = %+v, want count/min", rec.Unit)
	}
}

func TestProject_AbsentDistinctFromEmpty(t *testing.T) {
	attrs := extract.NewFlatRecord(append(heartRate().Attrs(), extract.Attr{Key: "device", Value: ""})...)

	rec, err := Project(attrs)
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}

	if !rec.Device.Valid {
		t.Error("Device present with empty value should be Valid")
	}
	if rec.SourceVersion.Valid {
		t.Error("SourceVersion absent should not be Valid")
	}

	vals := rec.Values()
	if vals[5] == nil || *vals[5] != "" {
		t.Errorf("Values()[device] = %v, want pointer to empty string", vals[5])
	}
	if vals[4] != nil {
		t.Errorf("Values()[source_version] = %v, want nil", *vals[4])
	}
}

func TestProject_IgnoresUnknownAttributes(t *testing.T) {
	attrs := extract.NewFlatRecord(append(heartRate().Attrs(), extract.Attr{Key: "HKMetadata", Value: "x"})...)

	rec, err := Project(attrs)
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	if len(rec.Row()) != len(HealthRecordFieldSpecs) {
		t.Errorf("Row() has %d cells, want %d", len(rec.Row()), len(HealthRecordFieldSpecs))
	}
}

func TestProject_MissingRequired(t *testing.T) {
	tests := []struct {
		drop      string
		wantField string
	}{
		{"type", "data_type"},
		{"sourceName", "source_name"},
		{"startDate", "start_date"},
		{"endDate", "end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.drop, func(t *testing.T) {
			_, err := Project(heartRate(tt.drop))
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("Project() error = %v, want ErrMissingField", err)
			}

			var mfe *MissingFieldError
			if !errors.As(err, &mfe) {
				t.Fatalf("error %T is not *MissingFieldError", err)
			}
			if mfe.Field != tt.wantField || mfe.Key != tt.drop {
				t.Errorf("MissingFieldError = %+v, want field %s key %s", mfe, tt.wantField, tt.drop)
			}
		})
	}
}

func TestProject_MissingOptionalIsFine(t *testing.T) {
	for _, key := range []string{"unit", "value"} {
		if _, err := Project(heartRate(key)); err != nil {
			t.Errorf("Project() without %s error = %v", key, err)
		}
	}
}

func TestValidateAll(t *testing.T) {
	errs := ValidateAll(heartRate("type", "endDate"))
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2", len(errs))
	}
	if errs[0].Field != "data_type" || errs[1].Field != "end_date" {
		t.Errorf("errors = %v, %v; want column order", errs[0], errs[1])
	}

	if errs := ValidateAll(heartRate()); len(errs) != 0 {
		t.Errorf("ValidateAll(valid) = %v, want none", errs)
	}
}
