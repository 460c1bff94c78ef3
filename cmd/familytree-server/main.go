// Command familytree-server serves the family tree API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"familytree/internal/blob"
	"familytree/internal/config"
	"familytree/internal/core"
	"familytree/internal/export"
	"familytree/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the server and blocks until ctx is done. When ready is non-nil
// it receives the bound listen address.
func run(ctx context.Context, args []string, logW io.Writer, ready chan<- string) error {
	fs := flag.NewFlagSet("familytree-server", flag.ContinueOnError)
	fs.SetOutput(logW)
	addr := fs.String("addr", "", "listen address (overrides FAMILYTREE_HTTP_ADDR)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	logger := config.NewLogger(cfg.Log, logW)

	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)),
	)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	blobStore, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	exporter := export.New(svc, blobStore,
		export.WithLogger(logger),
		export.WithPresignExpiry(cfg.Blob.PresignExpiry),
	)

	router := httpapi.NewRouter(httpapi.Options{
		Service:        svc,
		Exporter:       exporter,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:         logger,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AccessLog:      true,
	})

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("server listening",
		"addr", ln.Addr().String(),
		"storage", cfg.Storage.Driver,
		"blob", blobStore.Driver(),
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
