package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/bridge"
	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/metrics"
)

func newBridgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Re-publish the status channel to external WebSocket sessions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBridge()
		},
	}
}

func runBridge() error {
	cfg := config.Load()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	hub := bridge.NewHub()
	go hub.Run()

	br := bridge.New(b, hub)
	go func() {
		if err := br.Run(ctx); err != nil {
			slog.Error("bridge stopped", "err", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/ws", hub.HandleWS)
	router.Handle("/metrics", metrics.Handler())
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"marketsync-bridge"}`))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bridge listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down bridge...")
	return srv.Shutdown(shutdownCtx)
}
