// Command health-export converts an Apple Health export archive to CSV.
//
// Usage:
//
//	health-export <export.zip> > records.csv
//
// CSV goes to stdout and nothing else does; diagnostics go to stderr.
// HEALTH_EXPORT_MODE=schemaless switches to the schema-less header and
// HEALTH_EXPORT_STRICT=true aborts on the first incomplete record.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/core"
	"github.com/JonMunkholm/healthexport/internal/logging"
)

func main() {
	path, ok := archiveArg(os.Args[1:])
	if !ok {
		usage()
		os.Exit(2)
	}

	// Load .env file if it exists (Overload overwrites existing env vars)
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if envErr == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	converter := core.NewConverter(cfg.Export)
	res, err := converter.Convert(ctx, path, os.Stdout)
	if err != nil {
		slog.Error("export failed",
			"error", err,
			"code", core.MapError(err).Code,
			"hint", core.FormatUserError(err),
		)
		stop()
		os.Exit(1)
	}

	if n := res.Skipped(); n > 0 {
		slog.Warn("some records were not exported", "skipped", n, "run_id", res.RunID)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <export.zip>\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "Writes every Record of apple_health_export/export.xml as CSV to stdout.")
}

// archiveArg returns the single positional argument. There are no flags, so
// a path starting with "-" is taken as is.
func archiveArg(args []string) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	return args[0], true
}
