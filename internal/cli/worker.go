package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/relay"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run an application worker with its local status relay",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg := config.Load()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	r := relay.New(b)
	go func() {
		if err := r.Run(ctx); err != nil {
			slog.Error("relay stopped", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      relay.NewRouter(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("worker listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down worker...")
	return srv.Shutdown(shutdownCtx)
}
