package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/click/backend/internal/config"
	"example.com/click/backend/internal/database"
	"example.com/click/backend/internal/repository"
	"example.com/click/backend/internal/server"
)

func main() {
	ensureEnvFile()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "click",
		Short:         "Click investment assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the market data loader and the trade stream",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newPredictCmd(),
		newQuotesCmd(),
		newAdminTokenCmd(),
	)

	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return err
	}

	logger := newLogger(cmd.OutOrStdout())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		return err
	}
	if db != nil {
		defer db.Close()
	}

	services := server.NewServices(cfg, logger, db)
	e := server.New(ctx, cfg, logger, services)
	httpServer := server.NewHTTPServer(cfg.Server, e)

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Market.LoaderEnabled {
		group.Go(func() error {
			err := services.Loader.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("market loader disabled")
	}

	if cfg.Market.StreamEnabled && cfg.Market.APIKey != "" {
		group.Go(func() error {
			err := services.Stream.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else if cfg.Market.StreamEnabled {
		logger.Warn("market stream enabled without FINNHUB_API_KEY, skipping")
	}

	group.Go(func() error {
		logger.Info("http server started", slog.String("addr", httpServer.Addr), slog.String("provider", services.AI.Provider()))
		if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
			return err
		}
		logger.Info("http server stopped")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		return err
	}

	return nil
}

// openDatabase подключается к PostgreSQL и создает схему, если журнал запросов включен.
func openDatabase(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return db, nil
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func ensureEnvFile() {
	if os.Getenv("ENV_FILE") != "" {
		return
	}

	if _, err := os.Stat(".env"); err == nil {
		_ = os.Setenv("ENV_FILE", ".env")
		return
	}

	if _, err := os.Stat("../.env"); err == nil {
		_ = os.Setenv("ENV_FILE", "../.env")
	}
}
