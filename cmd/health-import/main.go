// Command health-import loads an Apple Health export archive into
// PostgreSQL.
//
// Usage:
//
//	DATABASE_URL=postgres://... health-import <export.zip>
//
// Records are projected onto the fixed columns and copied into DB_TABLE
// (default health_records) tagged with the run ID. The import is a single
// transaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/core"
	"github.com/JonMunkholm/healthexport/internal/logging"
	"github.com/JonMunkholm/healthexport/internal/store"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <export.zip>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Copies every Record of apple_health_export/export.xml into PostgreSQL.")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		slog.Error("import failed",
			"error", err,
			"code", core.MapError(err).Code,
		)
		os.Exit(1)
	}
}

func run(path string) error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	envErr := godotenv.Overload()

	cfg, err := config.LoadImport()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if envErr == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	st := store.New(pool, cfg.Database.Table, cfg.Upload.BatchSize)
	if err := st.EnsureTable(ctx); err != nil {
		return err
	}

	converter := core.NewConverter(cfg.Export)
	records, res, err := converter.LoadRecords(ctx, path)
	if err != nil {
		return err
	}

	runID, err := uuid.Parse(res.RunID)
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	ctx = logging.WithRunID(ctx, res.RunID)
	copied, err := st.Import(ctx, runID, records)
	if err != nil {
		return err
	}

	logging.FromContext(ctx).Info("import finished",
		"rows", copied,
		"skipped", res.Skipped(),
		"table", cfg.Database.Table,
	)
	return nil
}
