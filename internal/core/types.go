package core

import "time"

// Phase indicates the pipeline stage a conversion reached.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseReading    Phase = "reading"
	PhaseParsing    Phase = "parsing"
	PhaseProjecting Phase = "projecting"
	PhaseWriting    Phase = "writing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// SkippedRecord is a record dropped because it lacked a required field.
type SkippedRecord struct {
	Index  int    // Position among the document's Record elements, 0-based
	Reason string // Which field was missing
}

// Result describes one conversion run.
type Result struct {
	RunID          string
	Archive        string
	Mode           string
	Phase          Phase // Last phase reached
	FailedAt       Phase // Stage that failed, empty on success
	Records        int   // Record elements extracted
	Rows           int   // Data rows written or copied
	SkippedRecords []SkippedRecord
	SkippedRows    int // Rows the emitter could not encode
	Duration       time.Duration
	Error          string // Non-empty if the run failed
}

// Skipped returns the total number of records that did not reach the output.
func (r *Result) Skipped() int {
	return len(r.SkippedRecords) + r.SkippedRows
}
