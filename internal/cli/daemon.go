package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/daemon"
)

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Supervise the adapter and relay its heartbeats to the status channel",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg := config.Load()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	d := daemon.New(b, strings.Fields(cfg.AdapterBin))
	slog.Info("daemon starting", "adapter_cmd", cfg.AdapterBin)
	return d.Run(ctx)
}
