package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/punchamoorthee/refledger/internal/api"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/logging"
	"github.com/punchamoorthee/refledger/internal/service"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "refledger",
		Short: "Referral ledger API",
		RunE:  serveRun,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  serveRun,
	})
	rootCmd.AddCommand(migrateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	return cfg, logger, nil
}

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("unable to open store", zap.Error(err))
		return err
	}
	defer st.Close()

	engine := service.NewEngine(st, cfg.Tx, cfg.Ledger, logger)
	handler := api.NewHandler(engine, logger, cfg.Storage)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage),
			zap.String("rates", cfg.Ledger.CommissionRates.String()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; state is lost on exit")
		return store.NewMemoryStore(cfg.Tx.LockTimeout), nil
	}

	if cfg.AutoMigrate {
		if err := store.MigrateUp(cfg.DBSource, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	iso, err := store.ParseIsolation(cfg.Tx.Isolation)
	if err != nil {
		return nil, err
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource, iso)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return store.MigrateUp(cfg.DBSource, logger)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return store.MigrateDown(cfg.DBSource, steps, logger)
		},
	})
	return cmd
}
