package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"urlshortener/internal/config"
	"urlshortener/internal/database"
	"urlshortener/internal/service"
	"urlshortener/internal/types"
)

const usage = "usage: linkctl <export|import -file links.json|purge>"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("linkctl failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	store, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	codes, err := service.NewCodeGenerator(cfg.CodeLength)
	if err != nil {
		return err
	}
	shortener := service.NewShortener(store, codes)

	switch cmd {
	case "export":
		return doExport(ctx, shortener, os.Stdout)
	case "import":
		fs := flag.NewFlagSet("import", flag.ContinueOnError)
		file := fs.String("file", "", "JSON file produced by export")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return errors.New("import requires -file")
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		return doImport(ctx, shortener, f)
	case "purge":
		n, err := shortener.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		slog.Info("Expired links purged", "count", n)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func doExport(ctx context.Context, shortener *service.Shortener, w io.Writer) error {
	links, err := shortener.Export(ctx)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(links)
}

// doImport re-creates links under their exported codes. Links whose code or
// url is already present are skipped.
func doImport(ctx context.Context, shortener *service.Shortener, r io.Reader) error {
	var links []types.Link
	if err := json.NewDecoder(r).Decode(&links); err != nil {
		return fmt.Errorf("decode import file: %w", err)
	}

	var imported, skipped int
	for _, link := range links {
		_, err := shortener.Import(ctx, link)
		switch service.KindOf(err) {
		case service.KindAliasConflict, service.KindDuplicateOriginalURL:
			slog.Warn("Skipping existing link", "short_code", link.ShortCode, "error", err)
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("import %q: %w", link.ShortCode, err)
		}
		imported++
	}

	slog.Info("Import finished", "imported", imported, "skipped", skipped)
	return nil
}
