package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loco-sim/loco-sim/sim"
	"github.com/loco-sim/loco-sim/sim/deploy"
	"github.com/loco-sim/loco-sim/sim/train"
)

var (
	exportCheckpointBase string // Checkpoint base path (no extension)
	exportOutBase        string // Artifact base path (no extension)
	exportRobotPath      string // Optional robot interface YAML to check against
)

// exportCmd packages a checkpointed policy into a deployment artifact. With
// --robot, the policy's interface is checked against the robot's declared one
// and nothing is written on a mismatch.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Package a checkpointed policy for deployment",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		ck, err := train.LoadCheckpoint(exportCheckpointBase)
		if err != nil {
			logrus.Fatalf("Cannot load checkpoint %s: %v", exportCheckpointBase, err)
		}
		bundle, err := sim.BuildTask(&ck.Meta.Run.Task)
		if err != nil {
			logrus.Fatalf("Cannot rebuild task %q: %v", ck.Meta.Run.Task.Name, err)
		}
		iface := deploy.InterfaceFor(bundle.Task, bundle.Backend)

		if exportRobotPath != "" {
			want, err := deploy.LoadRobotInterface(exportRobotPath)
			if err != nil {
				logrus.Fatalf("Cannot load robot interface %s: %v", exportRobotPath, err)
			}
			if err := iface.Check(want); err != nil {
				logrus.Fatalf("Policy does not fit robot %q: %v", want.Robot, err)
			}
			logrus.Infof("[export] interface matches robot %q", want.Robot)
		}

		digest := ck.Meta.Run.Digest()
		if err := deploy.Export(exportOutBase, iface, ck.Params, ck.Norm.Stats(), digest); err != nil {
			logrus.Fatalf("Export failed: %v", err)
		}
		logrus.Infof("[export] wrote %s.yaml and %s.bin (params version %d, config %s)",
			exportOutBase, exportOutBase, ck.Params.Version, digest)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCheckpointBase, "checkpoint", "", "Checkpoint base path to export (no extension)")
	exportCmd.Flags().StringVar(&exportOutBase, "out", "", "Artifact base path to write (no extension)")
	exportCmd.Flags().StringVar(&exportRobotPath, "robot", "", "Robot interface YAML the policy must fit")
	_ = exportCmd.MarkFlagRequired("checkpoint")
	_ = exportCmd.MarkFlagRequired("out")
	logFlag(exportCmd)

	rootCmd.AddCommand(exportCmd)
}
