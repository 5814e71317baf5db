package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loco-sim/loco-sim/sim/train"
)

var (
	trainConfigPath string // Training run YAML
	trainResumeBase string // Checkpoint base path (no extension) to resume from
)

// trainCmd runs the optimizer loop described by a run config, optionally
// resuming from a checkpoint.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a control policy with clipped PPO",
	Long: "Run the collect/advantage/update loop until the configured iteration count. " +
		"With --resume and no --config, the run config stored in the checkpoint sidecar is reused. " +
		"SIGINT checkpoints the current state before exiting.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		var cfg train.Config
		switch {
		case trainConfigPath != "":
			loaded, err := train.LoadConfig(trainConfigPath)
			if err != nil {
				logrus.Fatalf("Invalid training config: %v", err)
			}
			cfg = loaded
		case trainResumeBase != "":
			meta, err := train.LoadCheckpointMeta(trainResumeBase)
			if err != nil {
				logrus.Fatalf("Cannot read checkpoint %s: %v", trainResumeBase, err)
			}
			cfg = meta.Run
			logrus.Infof("[cli] run config restored from checkpoint %s", trainResumeBase)
		default:
			logrus.Fatalf("either --config or --resume is required")
		}

		trainer, err := train.New(cfg)
		if err != nil {
			logrus.Fatalf("Cannot build trainer: %v", err)
		}
		if trainResumeBase != "" {
			if err := trainer.Restore(trainResumeBase); err != nil {
				logrus.Fatalf("Cannot resume from %s: %v", trainResumeBase, err)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		startTime := time.Now()
		if err := trainer.Run(ctx); err != nil {
			logrus.Fatalf("Training failed: %v", err)
		}
		logrus.Infof("Training complete in %s.", time.Since(startTime).Round(time.Second))
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainConfigPath, "config", "", "Path to training run YAML")
	trainCmd.Flags().StringVar(&trainResumeBase, "resume", "", "Checkpoint base path to resume from (no extension)")
	logFlag(trainCmd)

	rootCmd.AddCommand(trainCmd)
}
