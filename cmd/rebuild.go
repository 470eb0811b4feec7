package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/checkpoint"
	"github.com/kmilewski/listing-crawler/internal/config"
	"github.com/kmilewski/listing-crawler/internal/reconstruct"
)

// newRebuildStateCmd creates the 'rebuild-state' subcommand, which recovers
// the checkpoint files from a captured run log.
func newRebuildStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-state <logfile>",
		Short: "Rebuilds checkpoint state from a run log",
		Long: `Replays a captured run log and rewrites the checkpoint state file to
match, for when the state file was lost or corrupted but the log survived.
Structured JSON logs and console transcripts are both accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: runRebuildStateCommand,
	}

	cmd.Flags().Bool("strict", false, "treat any error-level log line as disqualifying a unit from done")

	return cmd
}

func runRebuildStateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	strict, err := cmd.Flags().GetBool("strict")
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	states, err := reconstruct.Reconstruct(f, strict)
	if err != nil {
		return fmt.Errorf("reconstruct state: %w", err)
	}

	store, err := checkpoint.NewStore(cfg.IO.CheckpointDir, cfg.Source.Name)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}
	if err := store.Replace(states); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	done := 0
	for _, st := range states {
		if st.Done {
			done++
		}
	}
	logger.Info("state_rebuilt",
		zap.String("log_file", args[0]),
		zap.Int("units", len(states)),
		zap.Int("done", done),
		zap.Bool("strict", strict),
	)
	return nil
}
