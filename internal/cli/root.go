// Package cli wires the marketsync roles into one binary: adapter,
// daemon, worker, bridge, and the batch importer. Each role runs as its
// own OS process.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/bus"
	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/store"
)

// NewRootCommand creates the marketsync root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketsync",
		Short: "Keeps the persisted market dataset in sync with the trading firehose",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(newAdapterCommand())
	cmd.AddCommand(newDaemonCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newBridgeCommand())
	cmd.AddCommand(newImportCommand())

	return cmd
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects the PostgreSQL store. The persisted store is the one
// durable shared resource; failure to open it is unrecoverable.
func openStore(ctx context.Context, cfg *config.Config) (*store.PostgresStore, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	slog.Info("connected to PostgreSQL")
	return store.NewPostgresStore(pool), pool.Close, nil
}

// openBus dials the status transport, trying candidate addresses in
// priority order.
func openBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	b, err := bus.DialRedis(ctx, cfg.RedisAddrs)
	if err != nil {
		return nil, fmt.Errorf("cannot reach status transport: %w", err)
	}
	slog.Info("connected to status transport", "addrs", cfg.RedisAddrs)
	return b, nil
}
