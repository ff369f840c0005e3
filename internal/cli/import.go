package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/galnet/marketsync/internal/config"
	"github.com/galnet/marketsync/internal/engine"
	"github.com/galnet/marketsync/internal/importer"
)

func newImportCommand() *cobra.Command {
	var opts importer.Options

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Catch up from the most recent daily snapshot",
		Long: "Locates the newest daily snapshot (local cache first, then remote\n" +
			"listings over a 7-day lookback), replaces rows for stations whose data\n" +
			"is newer than the persisted dataset, and checkpoints progress after\n" +
			"every batch so an interrupted run resumes where it left off.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runImport(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "skip interactive commit confirmation")
	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "full per-station replace without per-record diff tracking")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-import even if the checkpoint says this snapshot completed")

	return cmd
}

func runImport(opts importer.Options) error {
	cfg := config.Load()

	ctx, cancel := signalContext()
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var policy engine.CommitPolicy = engine.AutoCommit{}
	if !opts.Auto {
		policy = engine.PromptPolicy{In: os.Stdin, Out: os.Stdout}
	}

	loc := importer.NewLocator(cfg.DumpBaseURL, cfg.DumpCacheDir)
	imp := importer.New(st, loc, cfg.CheckpointPath, policy)

	slog.Info("import starting",
		"base_url", cfg.DumpBaseURL,
		"checkpoint", cfg.CheckpointPath,
		"auto", opts.Auto, "fast", opts.Fast, "force", opts.Force)
	return imp.Run(ctx, opts)
}
