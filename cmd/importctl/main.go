package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/kirillkom/docimport/internal/bootstrap"
	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/observability/logging"
)

type options struct {
	dir        string
	seed       string
	commit     bool
	actor      string
	importOpts domain.ImportOptions
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("importctl")
	var (
		dir          = fs.StringLong("dir", "", "Folder of documents to classify (required)")
		boltPath     = fs.StringLong("bolt", cfg.BoltPath, "Embedded import database file")
		seed         = fs.StringLong("seed", "", "YAML file with vendors and materials to load before the run")
		workers      = fs.IntLong("workers", cfg.BatchWorkers, "Documents classified concurrently")
		backend      = fs.StringLong("backend", cfg.ExtractorBackend, "Extractor backend: 'ollama' or 'gemini'")
		ollamaURL    = fs.StringLong("ollama-url", cfg.OllamaURL, "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", cfg.OllamaModel, "Ollama vision model name")
		geminiKey    = fs.StringLong("gemini-key", cfg.GeminiAPIKey, "Google Gemini API key")
		geminiModel  = fs.StringLong("gemini-model", cfg.GeminiModel, "Google Gemini model name")
		commit       = fs.BoolLong("commit", "Commit every classified document after the run")
		actor        = fs.StringLong("actor", "importctl", "Actor recorded in import history")
		received     = fs.BoolLong("mark-received", "Mark committed purchase orders as received")
		inventory    = fs.BoolLong("update-inventory", "Increment on-hand quantities of matched materials")
		linkPO       = fs.BoolLong("link-po", "Link invoices to purchase orders by number")
		createVendor = fs.BoolLong("create-vendor", "Create a vendor when none matches")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("IMPORTCTL")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: -dir is required")
		os.Exit(2)
	}

	cfg.StoragePath = *dir
	cfg.BoltPath = *boltPath
	cfg.BatchWorkers = *workers
	cfg.ExtractorBackend = *backend
	cfg.OllamaURL = *ollamaURL
	cfg.OllamaModel = *ollamaModel
	cfg.GeminiAPIKey = *geminiKey
	cfg.GeminiModel = *geminiModel

	logger := logging.New(os.Stderr, "importctl", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		dir:    *dir,
		seed:   *seed,
		commit: *commit,
		actor:  *actor,
		importOpts: domain.ImportOptions{
			MarkAsReceived:  *received,
			UpdateInventory: *inventory,
			LinkToPO:        *linkPO,
			CreateVendor:    *createVendor,
		},
	}
	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("importctl_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger, out io.Writer) error {
	app, err := bootstrap.NewOffline(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.seed != "" {
		seed, err := loadSeed(opts.seed)
		if err != nil {
			return err
		}
		if err := seed.apply(ctx, app.Store); err != nil {
			return err
		}
	}

	results, err := app.Batch.RunFolder(ctx, "")
	if err != nil {
		return fmt.Errorf("run folder %s: %w", opts.dir, err)
	}

	var commits []commitOutcome
	if opts.commit {
		commits = commitAll(ctx, app.Committer, results, opts.importOpts, opts.actor)
	}
	if err := writeReport(out, results, commits); err != nil {
		return err
	}

	summary := domain.Summarize(results)
	logger.Info("batch_finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"unknown", summary.Unknown,
	)
	if summary.Failed > 0 {
		return errors.New("some documents failed")
	}
	return nil
}
