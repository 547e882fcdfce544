package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nsg-ethz/SIFT/internal/stitch"
	"github.com/nsg-ethz/SIFT/internal/store"
)

var stitchCmd = &cobra.Command{
	Use:   "stitch [keyword-id]",
	Short: "Stitch completed fragments into the analytics database",
	Long: `Composes the overlapping completed fragments of a keyword into one
normalized series per location and writes them to the analytics
database. Defaults to keyword id 1.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStitch,
}

func init() {
	rootCmd.AddCommand(stitchCmd)

	stitchCmd.Flags().String("analytics", "./time_series.db", "Path to the analytics database")
	if err := viper.BindPFlag("analytics_path", stitchCmd.Flags().Lookup("analytics")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind flag analytics: %v\n", err)
	}
}

func runStitch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	keywordID := int64(1)
	if len(args) == 1 {
		keywordID, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("keyword id %q is not an integer: %w", args[0], err)
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sink, err := stitch.OpenSink(cfg.AnalyticsPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := &stitch.Engine{Source: st}
	return engine.StitchKeyword(ctx, keywordID, sink)
}
