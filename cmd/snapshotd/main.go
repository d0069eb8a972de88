// Command snapshotd serves the snapshot render endpoint: static HTML in,
// viewport PNG data URLs out, rendered in one shared headless browser.
//
// Usage:
//
//	snapshotd                         # defaults, env overrides
//	snapshotd -config snapshotd.yaml  # YAML config, env still wins
//	snapshotd -mcp                    # also serve the MCP tool on stdio
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapwipe/dbopen"
	"github.com/hazyhaar/snapwipe/observability"
	"github.com/hazyhaar/snapwipe/shield"
	"github.com/hazyhaar/snapwipe/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to snapshotd.yaml config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve the snapshot_render MCP tool on stdio")
	warm := flag.Bool("warm", true, "initialize the browser at startup")
	flag.Parse()

	cfg, err := snapshot.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshotd: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "snapshotd: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *mcpStdio {
		cfg.MCP.Stdio = true
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout belongs to the MCP transport when it is enabled.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *warm); err != nil {
		logger.Error("snapshotd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config, warm bool) error {
	dbPath := cfg.Metrics.DB
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema), dbopen.WithSchema(shield.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	metrics := observability.NewMetricsManager(db, 100, 5*time.Second)
	defer metrics.Close()
	batches := observability.NewBatchLog(db, 1000)
	defer batches.Close()

	mgr := snapshot.NewBrowserManager(cfg.Browser, logger)
	defer mgr.Close()

	svc := snapshot.NewWithBrowser(mgr, cfg.Render,
		snapshot.WithLogger(logger),
		snapshot.WithMetrics(metrics),
		snapshot.WithBatchLog(batches),
	)

	hb := observability.NewHeartbeatWriter(db, "snapshotd", 30*time.Second, mgr.Inits)
	hb.Start(ctx)
	defer hb.Stop()
	observability.StartRetention(ctx, db, observability.RetentionConfig{
		MetricsDays:    cfg.Metrics.RetentionDays,
		BatchesDays:    cfg.Metrics.RetentionDays,
		HeartbeatsDays: 2,
	}, func(err error) { logger.Warn("snapshotd: retention", "error", err) })

	if warm {
		go func() {
			if err := svc.Warm(ctx); err != nil {
				logger.Warn("snapshotd: warm up failed, will retry on first request", "error", err)
			}
		}()
	}

	if cfg.MCP.Stdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "snapshotd", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			logger.Info("snapshotd: MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("snapshotd: MCP stdio", "error", err)
			}
		}()
	}

	stack := shield.APIStack(db, cfg.Render.MaxBodyBytes)
	stack.StartReloaders(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range stack.Middlewares {
		r.Use(mw)
	}
	r.Get("/healthz", healthz(db))
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Render.TaskTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("snapshotd: listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("snapshotd: shutdown", "error", err)
	}
	logger.Info("snapshotd: stopped")
	return nil
}

// healthz reports the latest heartbeat, which carries the browser
// initialization count.
func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := observability.LatestHeartbeat(r.Context(), db, "snapshotd", 2*time.Minute)
		switch {
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		case st == nil:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		case !st.Alive:
			writeJSON(w, http.StatusServiceUnavailable, st)
		default:
			writeJSON(w, http.StatusOK, st)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
