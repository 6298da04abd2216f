package main

import "testing"

func TestArchiveArg(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   string
		wantOK bool
	}{
		{"single path", []string{"export.zip"}, "export.zip", true},
		{"leading dash is a path", []string{"-export.zip"}, "-export.zip", true},
		{"help is a path", []string{"-h"}, "-h", true},
		{"no arguments", nil, "", false},
		{"two arguments", []string{"a.zip", "b.zip"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := archiveArg(tt.args)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("archiveArg(%q) = %q, %v; want %q, %v", tt.args, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
