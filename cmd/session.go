package cmd

import (
	"fmt"
	"strconv"

	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Show or change the local sync session",
	GroupID: "system",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		s, err := a.store.GetSession(ctx)
		if err != nil {
			output.Error("read session: %v", err)
			return err
		}
		if jsonOut {
			return output.JSON(s)
		}

		user := strconv.FormatInt(s.UserID, 10)
		if s.UserID == models.AnonymousUserID {
			user = "anonymous"
		}
		fmt.Printf("User:      %s\n", user)
		fmt.Printf("Last sync: %s\n", output.FormatLastSync(s.LastSync))
		fmt.Printf("Store:     %s\n", a.store.Path())
		return nil
	},
}

var sessionSetUserCmd = &cobra.Command{
	Use:   "set-user <id>",
	Short: "Record the logged-in user (-1 for anonymous)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("invalid user id %q", args[0])
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		if err := a.store.SetSessionUser(ctx, userID); err != nil {
			output.Error("update session: %v", err)
			return err
		}
		output.Success("session user set to %d", userID)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionSetUserCmd)
	rootCmd.AddCommand(sessionCmd)
}
