// Package main is the Fusen CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fusen/internal/bundle"
	"github.com/hyperjump/fusen/internal/config"
	"github.com/hyperjump/fusen/internal/docid"
	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pagetext"
	"github.com/hyperjump/fusen/internal/reanchor"
	"github.com/hyperjump/fusen/internal/server"
	"github.com/hyperjump/fusen/internal/storage"
	"github.com/hyperjump/fusen/internal/watcher"
	"github.com/hyperjump/fusen/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/fusen/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "export":
		runExport()
	case "import":
		runImport()
	case "status":
		runStatus()
	case "migrate":
		runMigrate()
	case "reanchor":
		runReanchor()
	case "version", "--version", "-v":
		fmt.Printf("fusen version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open annotation store", zap.Error(err))
	}
	defer store.Close()

	var watchSvc *watcher.Watcher
	if cfg.Watch.Directory != "" {
		watchOpts := []watcher.WatcherOption{
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond),
		}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(cfg.Watch.Directory, func(path string) {
			importDroppedBundle(store, logger, path)
		}, watchOpts...)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// importDroppedBundle imports a bundle file into the document identity the
// bundle itself names.
func importDroppedBundle(store storage.Store, logger *zap.Logger, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("watch read bundle failed", zap.String("path", path), zap.Error(err))
		return
	}
	b, err := bundle.Decode(data)
	if err != nil {
		logger.Warn("watch decode bundle failed", zap.String("path", path), zap.Error(err))
		return
	}
	stats, err := bundle.Import(context.Background(), store, b.DocID, data)
	if err != nil {
		logger.Warn("watch import bundle failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("bundle imported",
		zap.String("path", path),
		zap.String("doc_id", b.DocID),
		zap.Int("rows", stats.Total()),
	)
}

func openStore(dbPath string) *storage.SQLiteStore {
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to open annotation store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "", "annotation database path (required)")
	doc := fs.String("doc", "", "document id to export (required)")
	out := fs.String("out", "", "output file (default: stdout)")
	_ = fs.Parse(os.Args[2:])
	if *dbPath == "" || *doc == "" {
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(*dbPath)
	defer store.Close()

	data, err := bundle.Export(context.Background(), store, *doc)
	if err != nil {
		fmt.Printf("Export failed: %v\n", err)
		os.Exit(1)
	}
	if *out == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		fmt.Printf("Failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Exported to %s\n", *out)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "", "annotation database path (required)")
	in := fs.String("in", "", "bundle file to import (required)")
	doc := fs.String("doc", "", "destination document id (default: the bundle's own)")
	_ = fs.Parse(os.Args[2:])
	if *dbPath == "" || *in == "" {
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", *in, err)
		os.Exit(1)
	}
	dest := *doc
	if dest == "" {
		b, err := bundle.Decode(data)
		if err != nil {
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}
		dest = b.DocID
	}

	store := openStore(*dbPath)
	defer store.Close()

	stats, err := bundle.Import(context.Background(), store, dest, data)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}
	skipped := stats.Skipped.Ink + stats.Skipped.Highlights + stats.Skipped.Notes
	fmt.Printf("Imported %d rows into %s (%d ink, %d highlights, %d notes, %d skipped)\n",
		stats.Total(), dest, stats.Ink, stats.Highlights, stats.Notes, skipped)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "", "annotation database path (required)")
	doc := fs.String("doc", "", "document id (required)")
	_ = fs.Parse(os.Args[2:])
	if *dbPath == "" || *doc == "" {
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(*dbPath)
	defer store.Close()

	counts, err := store.CountByKind(context.Background(), *doc)
	if err != nil {
		fmt.Printf("Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document: %s\n", *doc)
	fmt.Printf("  ink strokes: %d\n", counts[models.KindInk])
	fmt.Printf("  highlights:  %d\n", counts[models.KindHighlight])
	fmt.Printf("  notes:       %d\n", counts[models.KindNote])
}

func runMigrate() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "", "annotation database path (required)")
	from := fs.String("from", "", "legacy document id (required)")
	to := fs.String("to", "", "canonical document id, or a file path to hash with -hash")
	hashFile := fs.String("hash", "", "derive the canonical id from this file's contents")
	_ = fs.Parse(os.Args[2:])
	if *dbPath == "" || *from == "" || (*to == "" && *hashFile == "") {
		fs.Usage()
		os.Exit(1)
	}

	dest := *to
	if dest == "" {
		id, err := docid.FromFile(*hashFile)
		if err != nil {
			fmt.Printf("Failed to hash %s: %v\n", *hashFile, err)
			os.Exit(1)
		}
		dest = id
	}

	store := openStore(*dbPath)
	defer store.Close()

	if err := store.MigrateDocID(context.Background(), *from, dest); err != nil {
		fmt.Printf("Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Migrated %s -> %s\n", *from, dest)
}

func runReanchor() {
	fs := flag.NewFlagSet("reanchor", flag.ExitOnError)
	dbPath := fs.String("db", "", "annotation database path (required)")
	pdfPath := fs.String("pdf", "", "document file to anchor against (required)")
	layout := fs.String("layout", "", "target layout profile id (required)")
	doc := fs.String("doc", "", "document id (default: content hash of -pdf)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	if *dbPath == "" || *pdfPath == "" || *layout == "" {
		fs.Usage()
		os.Exit(1)
	}

	logger, err := utils.NewLogger(*debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	data, err := os.ReadFile(*pdfPath)
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", *pdfPath, err)
		os.Exit(1)
	}
	provider, err := pagetext.NewPDFProvider(data)
	if err != nil {
		fmt.Printf("Failed to open PDF: %v\n", err)
		os.Exit(1)
	}
	id := *doc
	if id == "" {
		id = docid.FromContent(data)
	}

	store := openStore(*dbPath)
	defer store.Close()

	r := reanchor.New(store, provider, nil, reanchor.Options{}, logger)
	moved, err := r.Run(context.Background(), id, *layout)
	if err != nil {
		fmt.Printf("Reanchor failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reanchored %d highlights onto layout %s\n", moved, *layout)
}

func printUsage() {
	fmt.Println(`Fusen - sidecar annotation engine

Usage:
  fusen server   [-config path] [-debug]          Start the HTTP API server
  fusen export   -db path -doc id [-out file]     Export a document's annotations
  fusen import   -db path -in file [-doc id]      Import an annotation bundle
  fusen status   -db path -doc id                 Show per-kind annotation counts
  fusen migrate  -db path -from id (-to id | -hash file)
                                                  Move annotations to a new document id
  fusen reanchor -db path -pdf file -layout id [-doc id]
                                                  Re-anchor highlights after a layout change
  fusen version                                   Show version
  fusen help                                      Show this help`)
}
