// Command tree-export writes a snapshot of the configured family tree store
// into the configured blob store and optionally prunes older exports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"

	"familytree/internal/blob"
	"familytree/internal/config"
	"familytree/internal/core"
	"familytree/internal/export"
)

var exitFunc = os.Exit

type report struct {
	Export export.Result `json:"export"`
	Pruned []string      `json:"pruned,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func run(ctx context.Context, args []string, out, logW io.Writer) error {
	fs := flag.NewFlagSet("tree-export", flag.ContinueOnError)
	fs.SetOutput(logW)
	formatFlag := fs.String("format", "json", "export format: json or yaml")
	keep := fs.Int("keep", -1, "prune to the newest N exports after writing (-1 keeps all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Log, logW)

	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}
	svc := core.NewService(store, core.WithLogger(logger))
	defer func() { _ = svc.Close() }()

	blobStore, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	exporter := export.New(svc, blobStore,
		export.WithLogger(logger),
		export.WithPresignExpiry(cfg.Blob.PresignExpiry),
	)

	res, err := exporter.Export(ctx, format)
	if err != nil {
		return err
	}
	rep := report{Export: res}
	if *keep >= 0 {
		if rep.Pruned, err = exporter.Prune(ctx, *keep); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
