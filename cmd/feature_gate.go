package cmd

import (
	"fmt"

	"github.com/marcus/teer/internal/features"
	"github.com/spf13/cobra"
)

// AddFeatureGatedCommand registers cmd under root. While the feature is off
// the command is hidden and refuses to run.
func AddFeatureGatedCommand(feature string, cmd *cobra.Command) {
	if !features.IsEnabled(feature) {
		cmd.Hidden = true
		cmd.RunE = func(*cobra.Command, []string) error {
			return fmt.Errorf("%s is disabled (feature %s)", cmd.Name(), feature)
		}
		cmd.Run = nil
		for _, sub := range cmd.Commands() {
			cmd.RemoveCommand(sub)
		}
	}
	rootCmd.AddCommand(cmd)
}
