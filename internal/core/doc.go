// Package core runs the Apple Health export conversion.
//
// This package composes the pipeline stages and holds the logic shared by
// every binary: the CLI, the database importer and the HTTP server call it
// without modification.
//
// # Pipeline
//
// A conversion runs four stages to completion, one after the other:
//
//  1. [archive.Load] reads apple_health_export/export.xml from the ZIP
//  2. [extract.Extract] flattens every Record child of HealthData
//  3. [schema.Project] maps each flat record onto the fixed columns
//     (skipped entirely in schema-less mode)
//  4. [emit.Fixed] or [emit.Schemaless] writes the CSV
//
// The context is checked between stages, never inside one.
//
// # Incomplete Records
//
// A record missing one of the required attributes (type, sourceName,
// startDate, endDate) is skipped with a warning and reported in
// [Result.SkippedRecords]. With strict mode the first such record aborts the
// run and nothing is written.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - ARC001-ARC003: Archive errors (open, entry missing, encoding)
//   - XML001-XML002: Document errors
//   - REC001: Missing required field in strict mode
//   - OUT001-OUT002: Output errors
//   - UPL001-UPL006: Server upload errors
//   - DB001-DB002: Database errors
//
// # Concurrency
//
// [ConversionLimiter] bounds how many conversions the server runs at once.
package core
