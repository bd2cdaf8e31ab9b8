package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "List operations waiting to be sent, in replay order",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		ops, err := a.queue.ListPending(ctx)
		if err != nil {
			output.Error("list pending: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(ops)
		}
		if len(ops) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for i, op := range ops {
			fmt.Printf("%2d. %s  %s  %s", i+1, shortID(op.ID),
				op.CreatedAt.Local().Format("2006-01-02 15:04:05"), describePending(op))
			if op.Attempts > 0 {
				fmt.Printf("  (%d failed attempts)", op.Attempts)
			}
			fmt.Println()
		}
		return nil
	},
}

func describePending(op models.PendingOperation) string {
	if op.Kind == models.OpPlaceBet {
		var req models.PlaceBetRequest
		if err := json.Unmarshal(op.Payload, &req); err == nil {
			return fmt.Sprintf("bet %s on %s, %s", output.FormatAmount(req.Amount, false),
				output.FormatNumber(req.Number), output.FormatRound(req.Round))
		}
	}
	return string(op.Kind)
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
