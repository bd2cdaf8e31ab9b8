package cmd

import (
	"fmt"

	"github.com/marcus/teer/internal/output"
	"github.com/spf13/cobra"
)

var lostCmd = &cobra.Command{
	Use:     "lost",
	Short:   "Show queued operations the server never accepted",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		// Listing them here counts as showing them.
		if _, err := a.store.TakeUnreportedLostWrites(ctx); err != nil {
			output.Warning("mark lost writes reported: %v", err)
		}
		lost, err := a.store.ListLostWrites(ctx)
		if err != nil {
			output.Error("list lost writes: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(lost)
		}

		if len(lost) == 0 {
			fmt.Println("No lost writes.")
			return nil
		}
		md := output.LostWritesMarkdown(lost)
		rendered, err := output.RenderMarkdownWithWidth(md, output.TerminalWidth(80))
		if err != nil {
			fmt.Println(md)
			return nil
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lostCmd)
}
