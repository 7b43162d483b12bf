/*
main.go - Application entry point

PURPOSE:
  Starts the tool cost reconciliation server and its maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     (default) Run the HTTP API and the integrity auditor
  migrate   Apply database migrations and exit
  seed      Load a catalog seed file into the configured store

STARTUP SEQUENCE (serve):
  1. Load configuration (file, then TOOLCOST_* environment)
  2. Open the store selected by store.driver
  3. Build the engine with metrics and the configured tx timeout
  4. Apply catalog.seed_file when set
  5. Start the integrity auditor
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor
  4. Close the database

EXAMPLES:
  ./server --config config/example.yaml
  TOOLCOST_STORE_DRIVER=memory ./server serve
  ./server migrate --config prod.yaml
  ./server seed config/seed.example.yaml

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/JorgeZavalaO/torno-app-sub000/api"
	"github.com/JorgeZavalaO/torno-app-sub000/catalog"
	"github.com/JorgeZavalaO/torno-app-sub000/config"
	"github.com/JorgeZavalaO/torno-app-sub000/logging"
	"github.com/JorgeZavalaO/torno-app-sub000/metrics"
	"github.com/JorgeZavalaO/torno-app-sub000/store/postgres"
	"github.com/JorgeZavalaO/torno-app-sub000/store/sqlite"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling/store"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Tool lifecycle cost reconciliation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "seed [file]",
			Short: "Load catalog items, work orders and tools from a YAML seed",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runSeed,
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []tooling.Option{
		tooling.WithLogger(log),
		tooling.WithTxTimeout(cfg.Tx.Timeout),
	}
	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New(prometheus.DefaultRegisterer)
		opts = append(opts, tooling.WithRecorder(rec))
	}
	engine := tooling.NewEngine(st, opts...)

	if cfg.Catalog.SeedFile != "" {
		if err := applySeed(ctx, engine, cfg.Catalog.SeedFile, log); err != nil {
			return err
		}
	}

	handler := api.NewHandler(engine, log)

	runs, _ := st.(tooling.AuditRunStore)
	auditor := api.NewIntegrityAuditor(engine, runs, log)
	auditor.Enabled = cfg.Auditor.Enabled
	auditor.Interval = cfg.Auditor.Interval
	if rec != nil {
		auditor.Observer = rec
	}
	handler.Auditor = auditor
	auditor.Start()
	defer auditor.Stop()

	routerOpts := api.RouterOptions{CORSOrigins: cfg.HTTP.CORSOrigins}
	if cfg.Metrics.Enabled {
		routerOpts.Metrics = promhttp.Handler()
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	_, closeStore, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	closeStore()
	log.Info("migrations applied", "store", cfg.Store.Driver)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	path := cfg.Catalog.SeedFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no seed file: pass one or set catalog.seed_file")
	}
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn("seeding the memory store has no lasting effect")
	}

	ctx := cmd.Context()
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := tooling.NewEngine(st, tooling.WithLogger(log), tooling.WithTxTimeout(cfg.Tx.Timeout))
	return applySeed(ctx, engine, path, log)
}

// =============================================================================
// WIRING
// =============================================================================

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.App.Env), nil
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (tooling.TxStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil

	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		return st, closer(st, log), nil

	case config.DriverPostgres:
		if err := postgres.Migrate(ctx, cfg.Store.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		st, err := postgres.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, closer(st, log), nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func closer(c interface{ Close() error }, log *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}
}

func applySeed(ctx context.Context, engine *tooling.Engine, path string, log *slog.Logger) error {
	seed, err := catalog.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load seed %s: %w", path, err)
	}
	res, err := catalog.Apply(ctx, engine, seed)
	if err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}
	log.Info("catalog seed applied",
		"file", path,
		"items", res.Items,
		"work_orders", res.WorkOrders,
		"work_orders_skipped", res.WorkOrdersSkipped,
		"tools_created", res.ToolsCreated,
		"tools_skipped", res.ToolsSkipped,
	)
	return nil
}
