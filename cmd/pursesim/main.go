// Command pursesim drives the purchase engine against the simulated store
// from the command line. Entitlements persist under PURSE_DATA_DIR between
// runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/purse"
	"github.com/xraph/purse/appstore/sim"
	audithook "github.com/xraph/purse/audit_hook"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/observability"
	"github.com/xraph/purse/store/sqlite"
)

func main() {
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*envFile, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "pursesim:", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(envFile string, args []string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	logger := cfg.logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return err
		}
	}

	behavior, err := parseBehavior(cfg.SimBehavior)
	if err != nil {
		return err
	}
	client := sim.New(sim.FromCatalog(cat), sim.WithLogger(logger))
	client.SetDefaultBehavior(behavior)

	userID, err := loadUserID(cfg)
	if err != nil {
		return err
	}

	opts := []purse.Option{
		purse.WithLogger(logger),
		purse.WithCatalog(cat),
		purse.WithUserID(userID),
		purse.WithStartingBalance(cfg.MinStartingBalance, cfg.MaxStartingBalance),
	}
	if cfg.AuditLog {
		opts = append(opts, purse.WithPlugin(audithook.New(auditLogger(logger), audithook.WithLogger(logger))))
	}

	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		factory := observability.NewPrometheusFactory(reg, observability.DefaultNamespace)
		opts = append(opts, purse.WithPlugin(observability.NewMetricsExtension(factory)))
		metrics = serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	st, err := sqlite.Open(ctx, cfg.DataDir)
	if err != nil {
		return err
	}
	engine := purse.New(st, client, opts...)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Warn("stop engine", "error", err)
		}
	}()

	r := &runner{engine: engine, store: client, out: os.Stdout, timeout: cfg.PurchaseTimeout}
	if err := r.run(ctx, args); err != nil {
		return err
	}
	client.Wait()

	if metrics != nil {
		logger.Info("serving metrics until interrupted", "addr", cfg.MetricsAddr)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	}
	return nil
}

// loadUserID returns the configured user id, or the one remembered in the
// data directory, creating and remembering a new one on first run.
func loadUserID(cfg Config) (id.UserID, error) {
	if cfg.UserID != "" {
		return id.ParseUserID(cfg.UserID)
	}

	path := filepath.Join(cfg.DataDir, "user_id")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return id.ParseUserID(strings.TrimSpace(string(data)))
	case !errors.Is(err, fs.ErrNotExist):
		return id.Nil, fmt.Errorf("read user id: %w", err)
	}

	userID := id.NewUserID()
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return id.Nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(userID.String()+"\n"), 0o600); err != nil {
		return id.Nil, fmt.Errorf("write user id: %w", err)
	}
	return userID, nil
}

func auditLogger(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		attrs := []any{
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
		}
		if evt.Reason != "" {
			attrs = append(attrs, "reason", evt.Reason)
		}
		logger.InfoContext(ctx, "audit", attrs...)
		return nil
	})
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
