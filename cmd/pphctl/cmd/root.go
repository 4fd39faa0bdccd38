package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"pph"
	"pph/internal/cli/middleware"
	"pph/internal/config"
	"pph/internal/logger"
	"pph/internal/metrics"
	"pph/internal/storage/migrate"
	"pph/internal/storage/postgres"
	"pph/internal/storage/sqlite"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	metricsAddr string
	cfg         *config.FileConfig
	log         *logger.Logger
	auditLog    *logger.AuditLogger

	sqliteStore   *sqlite.Store
	postgresStore *postgres.Store

	metricsRegistry = prometheus.NewRegistry()
	hasherMetrics   = metrics.New(metricsRegistry)
)

var rootCmd = &cobra.Command{
	Use:   "pphctl",
	Short: "Demonstration CLI for the threshold password-hashing engine",
	Long: "pphctl wires together the pph engine and one of its store backends " +
		"for manual testing and demos. It is not the production admin surface.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "pphctl" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err = logger.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if cfg.Log.AuditPath != "" {
			auditLog, err = logger.NewAuditLogger(cfg.Log.AuditPath, cfg.Log.AuditMaxAgeDays)
			if err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
		}

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Warn("metrics server stopped", "error", err)
				}
			}()
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if sqliteStore != nil {
			sqliteStore.Close()
		}
		if postgresStore != nil {
			postgresStore.Close()
		}
		if err := auditLog.Close(); err != nil {
			return err
		}
		if log != nil {
			return log.Close()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search /etc/pph, $HOME/.config/pph, cwd)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(newEncodeCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())

	// Every data-touching subcommand gets request-ID tagging, start/
	// duration logging, and an audit trail entry, without each command's
	// RunE having to do it by hand.
	middleware.ApplyRecursive(rootCmd, middleware.Logging(middleware.LoggingOptions{
		Logger:       &log,
		AuditLogger:  &auditLog,
		SkipCommands: []string{"version", "help", "pphctl"},
	}))
}

// openStore opens the backend cfg.Store names, running migrations
// first when MigrateOnStart is set, and returns it as both a
// pph.Cache and a pph.UserStore.
func openStore(ctx context.Context) (pph.Cache, pph.UserStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return openPostgres(ctx)
	default:
		return openSQLite(ctx)
	}
}

func openSQLite(ctx context.Context) (pph.Cache, pph.UserStore, error) {
	store, err := sqlite.New(cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	sqliteStore = store

	if cfg.Store.MigrateOnStart {
		// Not deferring mgr.Close() here: the migrate driver was handed
		// our long-lived store.DB() via WithInstance, and closing the
		// driver closes that connection too.
		migrateCfg := migrate.DefaultConfig()
		migrateCfg.Logger = log.Logger
		mgr, err := migrate.NewSQLiteManager(store.DB(), migrateCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to prepare migrations: %w", err)
		}
		if err := mgr.Up(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, store, nil
}

func openPostgres(ctx context.Context) (pph.Cache, pph.UserStore, error) {
	store, err := postgres.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	postgresStore = store

	if cfg.Store.MigrateOnStart {
		// golang-migrate's Postgres driver wants a database/sql.DB; pgx's
		// stdlib adapter gives us one against the same DSN used for the
		// pgxpool above, just for the duration of the migration.
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open migration connection: %w", err)
		}
		defer db.Close()

		mgr, err := migrate.NewPostgresManager(db, migrate.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to prepare migrations: %w", err)
		}
		defer mgr.Close()
		if err := mgr.Up(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, store, nil
}

// securityFanout forwards every SecurityEvent to each target, so a
// single event both lands in the audit file and shows up at error level
// in the operational log.
type securityFanout []pph.SecurityLogger

func (f securityFanout) SecurityEvent(ctx context.Context, event string, attrs ...any) {
	for _, t := range f {
		t.SecurityEvent(ctx, event, attrs...)
	}
}

// newHasher loads persisted state (if any) and returns a ready Hasher
// for the given backend.
func newHasher(cache pph.Cache, users pph.UserStore) (*pph.Hasher, error) {
	sinks := securityFanout{pph.NewSlogSecurityLogger(log.Logger)}
	if auditLog != nil {
		sinks = append(sinks, auditLog)
	}
	audit := metrics.NewSecurityLogger(hasherMetrics, sinks)
	observer := metrics.NewObserver(hasherMetrics)
	h, err := pph.New(cfg.Hasher.ToPPHConfig(), cache, users,
		pph.WithLogger(log.Logger),
		pph.WithSecurityLogger(audit),
		pph.WithObserver(observer),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}
