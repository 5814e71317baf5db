package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loco-sim/loco-sim/sim/train"
)

var (
	evalCheckpointBase string // Checkpoint base path (no extension)
	evalConfigPath     string // Optional config override
	evalEpisodes       int    // Episodes to run
)

// evalCmd rolls out a checkpointed policy greedily and prints episode
// aggregates.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a checkpointed policy without exploration noise",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		var cfg train.Config
		if evalConfigPath != "" {
			loaded, err := train.LoadConfig(evalConfigPath)
			if err != nil {
				logrus.Fatalf("Invalid training config: %v", err)
			}
			cfg = loaded
		} else {
			meta, err := train.LoadCheckpointMeta(evalCheckpointBase)
			if err != nil {
				logrus.Fatalf("Cannot read checkpoint %s: %v", evalCheckpointBase, err)
			}
			cfg = meta.Run
		}

		trainer, err := train.New(cfg)
		if err != nil {
			logrus.Fatalf("Cannot build trainer: %v", err)
		}
		if err := trainer.Restore(evalCheckpointBase); err != nil {
			logrus.Fatalf("Cannot load checkpoint %s: %v", evalCheckpointBase, err)
		}

		summary, err := trainer.Evaluate(evalEpisodes)
		if err != nil {
			logrus.Fatalf("Evaluation failed: %v", err)
		}
		logrus.Infof("[eval] task %q robot %q: policy version %d over %d episodes",
			cfg.Task.Name, cfg.Task.Robot, trainer.Params().Version, summary.Episodes)
		summary.Print()
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalCheckpointBase, "checkpoint", "", "Checkpoint base path to evaluate (no extension)")
	evalCmd.Flags().StringVar(&evalConfigPath, "config", "", "Optional run YAML overriding the checkpointed config")
	evalCmd.Flags().IntVar(&evalEpisodes, "episodes", 10, "Number of evaluation episodes")
	_ = evalCmd.MarkFlagRequired("checkpoint")
	logFlag(evalCmd)

	rootCmd.AddCommand(evalCmd)
}
