package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/bus"
	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/engine"
	"github.com/galnet/marketsync/internal/feed"
	"github.com/galnet/marketsync/internal/model"
)

func newAdapterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "adapter",
		Short: "Run the firehose adapter: ingest, buffer, and flush market updates",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAdapter()
		},
	}
}

func runAdapter() error {
	cfg := config.Load()

	ctx, cancel := signalContext()
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	client := feed.NewClient(cfg.FeedURL)
	defer client.Close()

	// Self-announcement identity: the heartbeat carries our pid and a
	// startup token so the daemon can adopt a running adapter instead of
	// spawning a duplicate authority.
	pid := os.Getpid()
	token := uuid.New().String()

	runner := engine.NewRunner(client, st, cfg.FlushInterval)
	runner.Announce = func(rec model.StatusRecord) {
		rec.OwnerPID = pid
		rec.Token = token
		payload, err := json.Marshal(rec)
		if err != nil {
			return
		}
		// Publishing is best effort; heartbeat loss surfaces as silence.
		if err := b.Publish(context.Background(), bus.HeartbeatChannel, payload); err != nil {
			slog.Warn("heartbeat publish failed", "err", err)
		}
	}

	slog.Info("adapter starting",
		"feed", cfg.FeedURL, "flush_interval", cfg.FlushInterval, "pid", pid, "token", token)
	return runner.Run(ctx)
}
