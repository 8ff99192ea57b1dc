// Package main is the entry point for the foldtext relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/foldtext/internal/config"
	"github.com/dshills/foldtext/internal/discovery"
	"github.com/dshills/foldtext/internal/server"
	"github.com/dshills/foldtext/internal/server/ledger"
	"github.com/dshills/foldtext/internal/server/store"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))
	logger := cfg.Log.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Server)
	if err != nil {
		logger.Error("opening store failed", "store", cfg.Server.Store, "error", err)
		return 1
	}
	defer st.Close()

	lg, err := openLedger(ctx, cfg.Server)
	if err != nil {
		logger.Error("opening ledger failed", "ledger", cfg.Server.Ledger, "error", err)
		return 1
	}
	defer lg.Close()

	srv := server.New(st, lg,
		server.WithLogger(logger),
		server.WithAuthenticator(server.NewTokens(cfg.Server.Tokens...)),
		server.WithHandshakeTimeout(cfg.Collab.HandshakeTimeout.Std()),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("listen failed", "addr", cfg.Server.Addr, "error", err)
		return 1
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise("", cfg.Server.ServiceName, port, version)
		if err != nil {
			logger.Warn("mdns advertisement failed", "error", err)
		} else {
			defer ad.Shutdown()
			logger.Info("advertising", "service", cfg.Server.ServiceName, "port", port)
		}
	}

	if opts.configPath != "" {
		go watchConfig(ctx, opts.configPath, level, logger)
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("foldtextd listening", "addr", ln.Addr().String(), "store", cfg.Server.Store, "ledger", cfg.Server.Ledger, "version", version)
		errc <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}
	return 0
}

// watchConfig applies log level changes without a restart. Other settings
// need one.
func watchConfig(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger) {
	w, err := config.NewWatcher(path, config.WithWatchLogger(logger))
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}
	_ = w.Run(ctx, func(cfg *config.Config) {
		level.Set(config.ParseLevel(cfg.Log.Level))
	})
}

func openStore(ctx context.Context, c config.ServerConfig) (store.Store, error) {
	switch c.Store {
	case "bolt":
		return store.OpenBolt(c.BoltPath)
	case "postgres":
		return store.OpenPostgres(ctx, c.PostgresDSN)
	default:
		return store.NewMemory(), nil
	}
}

func openLedger(ctx context.Context, c config.ServerConfig) (ledger.Ledger, error) {
	if c.Ledger == "redis" {
		return ledger.OpenRedis(ctx, c.RedisURL)
	}
	return ledger.NewMemory(), nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "foldtextd - collaborative document relay\n\n")
		fmt.Fprintf(os.Stderr, "Usage: foldtextd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables FOLDTEXT_<SECTION>_<SETTING> override the file,\n")
		fmt.Fprintf(os.Stderr, "for example FOLDTEXT_SERVER_STORE=bolt.\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("foldtextd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}
	return opts
}
