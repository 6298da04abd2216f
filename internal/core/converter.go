package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/healthexport/internal/archive"
	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/emit"
	"github.com/JonMunkholm/healthexport/internal/extract"
	"github.com/JonMunkholm/healthexport/internal/logging"
	"github.com/JonMunkholm/healthexport/internal/schema"
)

// Converter runs archive → records → CSV. Each stage completes before the
// next one starts; ctx is only consulted between stages.
type Converter struct {
	mode   string
	strict bool
}

// NewConverter creates a Converter for the given export settings.
func NewConverter(cfg config.ExportConfig) *Converter {
	mode := strings.ToLower(cfg.Mode)
	if mode == "" {
		mode = config.ModeFixed
	}
	return &Converter{mode: mode, strict: cfg.Strict}
}

// Mode returns the emitter mode in use.
func (c *Converter) Mode() string {
	return c.mode
}

// Convert reads the archive at path and writes CSV to w.
func (c *Converter) Convert(ctx context.Context, path string, w io.Writer) (*Result, error) {
	run := c.start(ctx, path)

	text, err := archive.Load(path)
	if err != nil {
		return run.fail(PhaseReading, err)
	}
	return c.convertText(run, text, w)
}

// ConvertArchive is Convert for an archive already held by the caller.
func (c *Converter) ConvertArchive(ctx context.Context, r io.ReaderAt, size int64, name string, w io.Writer) (*Result, error) {
	run := c.start(ctx, name)

	text, err := archive.LoadFrom(r, size, name)
	if err != nil {
		return run.fail(PhaseReading, err)
	}
	return c.convertText(run, text, w)
}

// LoadRecords reads and projects the archive at path without emitting,
// regardless of the configured mode. health-import uses it.
func (c *Converter) LoadRecords(ctx context.Context, path string) ([]schema.Record, *Result, error) {
	run := c.start(ctx, path)
	run.result.Mode = config.ModeFixed

	text, err := archive.Load(path)
	if err != nil {
		_, err = run.fail(PhaseReading, err)
		return nil, run.result, err
	}

	flat, err := run.extract(text)
	if err != nil {
		return nil, run.result, err
	}

	records, err := run.project(flat, c.strict)
	if err != nil {
		return nil, run.result, err
	}

	run.result.Phase = PhaseComplete
	run.result.Duration = time.Since(run.started)
	return records, run.result, nil
}

func (c *Converter) convertText(run *conversion, text string, w io.Writer) (*Result, error) {
	flat, err := run.extract(text)
	if err != nil {
		return run.result, err
	}

	var stats emit.Stats
	if c.mode == config.ModeSchemaless {
		if err := run.checkpoint(PhaseWriting); err != nil {
			return run.result, err
		}
		stats, err = emit.Schemaless(flat, w)
	} else {
		records, perr := run.project(flat, c.strict)
		if perr != nil {
			return run.result, perr
		}
		if err := run.checkpoint(PhaseWriting); err != nil {
			return run.result, err
		}
		stats, err = emit.Fixed(records, w)
	}

	run.result.Rows = stats.Rows
	run.result.SkippedRows = stats.Skipped
	if err != nil {
		return run.fail(PhaseWriting, err)
	}

	run.result.Phase = PhaseComplete
	run.result.Duration = time.Since(run.started)
	run.log.Info("done processing",
		"rows", run.result.Rows,
		"skipped", run.result.Skipped(),
		"elapsed", run.result.Duration,
	)
	return run.result, nil
}

// conversion carries the state of a single run through the stages.
type conversion struct {
	ctx     context.Context
	result  *Result
	started time.Time
	log     *slog.Logger
}

func (c *Converter) start(ctx context.Context, name string) *conversion {
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)

	run := &conversion{
		ctx:     ctx,
		started: time.Now(),
		result: &Result{
			RunID:   runID,
			Archive: name,
			Mode:    c.mode,
			Phase:   PhaseStarting,
		},
		log: logging.WithFields(ctx, "archive", name, "mode", c.mode),
	}
	run.log.Info("conversion started", "strict", c.strict)
	run.result.Phase = PhaseReading
	return run
}

// checkpoint moves to phase unless the context is done.
func (run *conversion) checkpoint(phase Phase) error {
	if err := run.ctx.Err(); err != nil {
		run.result.Phase = PhaseCancelled
		run.result.FailedAt = phase
		run.result.Error = err.Error()
		run.result.Duration = time.Since(run.started)
		return fmt.Errorf("conversion cancelled before %s: %w", phase, err)
	}
	run.result.Phase = phase
	return nil
}

func (run *conversion) fail(phase Phase, err error) (*Result, error) {
	run.result.Phase = PhaseFailed
	run.result.FailedAt = phase
	run.result.Error = err.Error()
	run.result.Duration = time.Since(run.started)
	run.log.Error("conversion failed", "phase", phase, "error", err, "code", MapError(err).Code)
	return run.result, err
}

func (run *conversion) extract(text string) ([]extract.FlatRecord, error) {
	if err := run.checkpoint(PhaseParsing); err != nil {
		return nil, err
	}

	flat, err := extract.Extract(text)
	if err != nil {
		_, err = run.fail(PhaseParsing, err)
		return nil, err
	}

	run.result.Records = len(flat)
	run.log.Info("read records", "records", len(flat))
	return flat, nil
}

// project converts flat records to typed ones. Records missing a required
// field are skipped with a warning, or abort the run when strict is set.
func (run *conversion) project(flat []extract.FlatRecord, strict bool) ([]schema.Record, error) {
	if err := run.checkpoint(PhaseProjecting); err != nil {
		return nil, err
	}

	records := make([]schema.Record, 0, len(flat))
	for i, f := range flat {
		rec, err := schema.Project(f)
		if err != nil {
			if strict {
				_, err = run.fail(PhaseProjecting, fmt.Errorf("record %d: %w", i, err))
				return nil, err
			}
			run.result.SkippedRecords = append(run.result.SkippedRecords, SkippedRecord{
				Index:  i,
				Reason: err.Error(),
			})
			run.log.Warn("skipping record", "record", i, "error", err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
